package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/protocol"
)

// Stdio serves newline-delimited JSON-RPC on one duplex channel. The channel
// has exactly one implicit session and nothing is registered.
type Stdio struct {
	in      io.Reader
	out     io.Writer
	logger  middleware.Logger
	maxLine int

	mu sync.Mutex
}

// StdioOption configures a Stdio transport.
type StdioOption func(*Stdio)

// WithStdin sets the input stream.
func WithStdin(r io.Reader) StdioOption {
	return func(s *Stdio) { s.in = r }
}

// WithStdout sets the output stream.
func WithStdout(w io.Writer) StdioOption {
	return func(s *Stdio) { s.out = w }
}

// WithStdioLogger sets the logger. It must not write to the output stream.
func WithStdioLogger(l middleware.Logger) StdioOption {
	return func(s *Stdio) { s.logger = l }
}

// WithMaxLineBytes caps a single message. Non-positive values keep the
// default.
func WithMaxLineBytes(n int) StdioOption {
	return func(s *Stdio) {
		if n > 0 {
			s.maxLine = n
		}
	}
}

// NewStdio returns a transport on os.Stdin and os.Stdout unless overridden.
func NewStdio(opts ...StdioOption) *Stdio {
	s := &Stdio{
		in:      os.Stdin,
		out:     os.Stdout,
		logger:  middleware.NopLogger{},
		maxLine: int(DefaultMaxBodyBytes),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns "stdio".
func (s *Stdio) Addr() string {
	return string(KindStdio)
}

// Serve processes lines until EOF or ctx is cancelled. A missing or closed
// stream fails with ErrTransportStartup before anything is read.
func (s *Stdio) Serve(ctx context.Context, handler Handler) error {
	if err := s.check(); err != nil {
		return err
	}

	sess := newSession("", KindStdio, handler)
	defer sess.Close()
	sess.setNotifier(protocol.NotifierFunc(func(_ context.Context, method string, params any) error {
		n, err := protocol.NewNotification(method, params)
		if err != nil {
			return err
		}
		return s.write(n)
	}))

	s.logger.Info("stdio transport started")

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), s.maxLine)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("stdio: read: %w", err)
				}
				s.logger.Info("stdio transport closed")
				return nil
			}
			s.handleLine(ctx, sess, line)
		}
	}
}

func (s *Stdio) check() error {
	if s.in == nil || s.out == nil {
		return fmt.Errorf("%w: stdio streams not available", ErrTransportStartup)
	}
	for _, f := range []any{s.in, s.out} {
		if file, ok := f.(*os.File); ok {
			if _, err := file.Stat(); err != nil {
				return fmt.Errorf("%w: %v", ErrTransportStartup, err)
			}
		}
	}
	return nil
}

func (s *Stdio) handleLine(ctx context.Context, sess *Session, line []byte) {
	if len(line) == 0 {
		return
	}
	req, rpcErr := protocol.Decode(line)
	if rpcErr != nil {
		s.writeLogged(protocol.NewErrorResponse(nil, rpcErr))
		return
	}
	if resp := sess.Dispatch(ctx, req); resp != nil {
		s.writeLogged(resp)
	}
}

func (s *Stdio) writeLogged(v any) {
	if err := s.write(v); err != nil {
		s.logger.Error("stdio write failed", middleware.F("error", err.Error()))
	}
}

func (s *Stdio) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.out.Write(data)
	return err
}
