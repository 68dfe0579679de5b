package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ShutdownConfig configures graceful shutdown.
type ShutdownConfig struct {
	// Timeout bounds the wait for in-flight requests. Default 10s.
	Timeout time.Duration

	// OnDrainStart runs once draining has begun, before waiting for
	// in-flight requests. The router closes every session here.
	OnDrainStart func()

	// OnShutdownComplete receives the result of the wait.
	OnShutdownComplete func(err error)
}

// ShutdownManager rejects new requests once draining and waits for the
// in-flight ones to finish.
type ShutdownManager struct {
	config ShutdownConfig

	draining  atomic.Bool
	inFlight  atomic.Int64
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewShutdownManager returns a manager with defaults applied.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &ShutdownManager{config: config, doneCh: make(chan struct{})}
}

// IsDraining reports whether shutdown has started.
func (sm *ShutdownManager) IsDraining() bool {
	return sm.draining.Load()
}

// InFlightRequests returns the number of tracked requests.
func (sm *ShutdownManager) InFlightRequests() int64 {
	return sm.inFlight.Load()
}

// TrackRequest counts a new request. It returns false while draining.
func (sm *ShutdownManager) TrackRequest() bool {
	if sm.draining.Load() {
		return false
	}
	sm.inFlight.Add(1)
	if sm.draining.Load() {
		sm.inFlight.Add(-1)
		return false
	}
	return true
}

// CompleteRequest releases a request counted by TrackRequest.
func (sm *ShutdownManager) CompleteRequest() {
	sm.inFlight.Add(-1)
}

// Middleware tracks every request and answers 503 while draining.
func (sm *ShutdownManager) Middleware(next http.Handler, onReject func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sm.TrackRequest() {
			if onReject != nil {
				onReject()
			}
			w.Header().Set("Connection", "close")
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		defer sm.CompleteRequest()
		next.ServeHTTP(w, r)
	})
}

// Shutdown starts draining, runs OnDrainStart and waits until no request
// is in flight, the timeout passes or ctx ends.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.draining.Store(true)
	if sm.config.OnDrainStart != nil {
		sm.config.OnDrainStart()
	}

	waitCtx, cancel := context.WithTimeout(ctx, sm.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var err error
wait:
	for sm.inFlight.Load() > 0 {
		select {
		case <-waitCtx.Done():
			err = waitCtx.Err()
			break wait
		case <-ticker.C:
		}
	}

	sm.closeOnce.Do(func() { close(sm.doneCh) })
	if sm.config.OnShutdownComplete != nil {
		sm.config.OnShutdownComplete(err)
	}
	return err
}

// Done is closed when Shutdown returns.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.doneCh
}
