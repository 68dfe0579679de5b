package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// ProgressReporter lets tool handlers emit notifications/progress for the
// request they are serving.
type ProgressReporter interface {
	Report(progress float64, total *float64) error
	ReportWithMessage(progress float64, total *float64, message string) error
	// Token returns the request's progress token, or nil when none was sent.
	Token() any
}

type progressReporter struct {
	ctx      context.Context
	token    any
	notifier protocol.Notifier

	mu   sync.Mutex
	last float64
	sent bool
}

// NewProgressReporter returns a reporter that sends through n. The context
// is passed to every Notify call.
func NewProgressReporter(ctx context.Context, token any, n protocol.Notifier) ProgressReporter {
	return &progressReporter{ctx: ctx, token: token, notifier: n}
}

func (p *progressReporter) Token() any { return p.token }

func (p *progressReporter) Report(progress float64, total *float64) error {
	return p.ReportWithMessage(progress, total, "")
}

func (p *progressReporter) ReportWithMessage(progress float64, total *float64, message string) error {
	if p.token == nil || p.notifier == nil {
		return nil
	}

	p.mu.Lock()
	// progress must strictly increase
	if p.sent && progress <= p.last {
		progress = p.last + 0.1
	}
	p.last = progress
	p.sent = true
	p.mu.Unlock()

	params := map[string]any{
		"progressToken": p.token,
		"progress":      progress,
	}
	if total != nil {
		params["total"] = *total
	}
	if message != "" {
		params["message"] = message
	}
	return p.notifier.Notify(p.ctx, protocol.MethodProgress, params)
}

type progressContextKey struct{}

// ContextWithProgress returns a context carrying the reporter.
func ContextWithProgress(ctx context.Context, r ProgressReporter) context.Context {
	return context.WithValue(ctx, progressContextKey{}, r)
}

// ProgressFromContext returns the reporter from ctx, or a no-op reporter.
func ProgressFromContext(ctx context.Context) ProgressReporter {
	if r, ok := ctx.Value(progressContextKey{}).(ProgressReporter); ok {
		return r
	}
	return noopProgress{}
}

type noopProgress struct{}

func (noopProgress) Report(float64, *float64) error                    { return nil }
func (noopProgress) ReportWithMessage(float64, *float64, string) error { return nil }
func (noopProgress) Token() any                                        { return nil }

// ExtractProgressToken returns params._meta.progressToken. Tokens may be
// strings or numbers; anything else, including absence, yields nil.
func ExtractProgressToken(params json.RawMessage) any {
	if len(params) == 0 {
		return nil
	}
	var p struct {
		Meta struct {
			ProgressToken any `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil
	}
	switch tok := p.Meta.ProgressToken.(type) {
	case string:
		if tok == "" {
			return nil
		}
		return tok
	case float64:
		return tok
	default:
		return nil
	}
}
