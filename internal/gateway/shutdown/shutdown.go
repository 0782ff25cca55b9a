// Package shutdown provides the single broadcastable shutdown signal the
// gateway's HTTP listeners observe. The background loops do not select on
// it; they have their own Stop methods, which the app calls after the drain.
package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Signal is a watched boolean: Done() never blocks once Broadcast has been
// called, so any number of goroutines can observe it independently.
type Signal struct {
	ch chan struct{}
}

// NewSignal builds an unfired signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Done returns the channel that closes exactly once, at Broadcast.
func (s *Signal) Done() <-chan struct{} { return s.ch }

// Broadcast fires the signal. Safe to call more than once.
func (s *Signal) Broadcast() {
	select {
	case <-s.ch:
		// already fired
	default:
		close(s.ch)
	}
}

// WaitForInterrupt blocks until SIGINT or SIGTERM arrives, then fires sig.
func WaitForInterrupt(sig *Signal, log zerolog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	s := <-ch
	log.Info().Str("signal", s.String()).Msg("shutdown signal received")
	sig.Broadcast()
}

// GracefulServe runs srv until sig fires, then shuts it down within
// drainTimeout, allowing in-flight requests to complete.
func GracefulServe(srv *http.Server, sig *Signal, drainTimeout time.Duration, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-sig.Done():
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		log.Info().Dur("timeout", drainTimeout).Msg("draining in-flight requests")
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		return <-errCh
	}
}
