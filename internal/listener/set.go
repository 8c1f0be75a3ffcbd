package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/panics"

	exportererrors "github.com/kubeadapt/nvml-exporter/internal/errors"
)

// Outcome is how one listener ended.
type Outcome struct {
	Addr string
	Err  error
}

// FailedError summarizes the listeners that did not stop cleanly.
type FailedError struct {
	Failed []string
	Total  int
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%d of %d listeners failed: %v", len(e.Failed), e.Total, e.Failed)
}

// Set runs a group of listeners that share nothing but their handler.
type Set struct {
	listeners []*Listener
	errors    *exportererrors.ErrorCollector
}

// NewSet creates a set of listeners.
func NewSet(listeners ...*Listener) *Set {
	return &Set{listeners: listeners}
}

// WithErrorCollector reports listener failures to ec.
func (s *Set) WithErrorCollector(ec *exportererrors.ErrorCollector) *Set {
	s.errors = ec
	return s
}

// Listeners returns the listeners in the set.
func (s *Set) Listeners() []*Listener {
	out := make([]*Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

// Shutdown asks every listener to drain.
func (s *Set) Shutdown() {
	for _, l := range s.listeners {
		l.Shutdown()
	}
}

// Run starts every listener and blocks until all of them have stopped.
// Cancelling ctx drains every listener. A listener that fails to bind,
// fails while serving or panics is logged and reported in its Outcome; the
// others keep running.
func (s *Set) Run(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, len(s.listeners))

	var wg sync.WaitGroup
	for i, l := range s.listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if r := panics.Try(func() { err = l.Run(ctx) }); r != nil {
				err = r.AsError()
				l.state.transitionTo(StateStopped)
			}
			outcomes[i] = Outcome{Addr: l.Addr(), Err: err}
			if err != nil {
				ee := exportererrors.ListenerFailed(l.Addr(), err)
				if s.errors != nil {
					s.errors.Report(ee)
				}
				slog.Error("listener failed", "address", l.Addr(), "error", ee)
			}
		}()
	}
	wg.Wait()

	return outcomes
}

// Err summarizes outcomes, returning a *FailedError when any listener
// failed.
func Err(outcomes []Outcome) error {
	var failed []string
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o.Addr)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &FailedError{Failed: failed, Total: len(outcomes)}
}
