// Package fetch turns entry batches and slice commits into render records
// without blocking the scene loop. Network calls run on their own
// goroutines; completions are posted back to the loop through a Dispatcher
// and applied only when they answer the latest request.
package fetch

import (
	"context"

	"github.com/ocs-studio/server/internal/ocs"
)

// Dispatcher runs fn on the goroutine that owns the orchestrator.
type Dispatcher interface {
	Post(fn func())
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(fn func())

// Post calls f(fn).
func (f DispatchFunc) Post(fn func()) { f(fn) }

// Source produces the records for an entry batch.
type Source interface {
	FetchOCS(ctx context.Context, entries []ocs.Entry) ([]ocs.RenderRecord, error)
}

// SliceSource produces slice records for a plane.
type SliceSource interface {
	FetchSlice(ctx context.Context, plane ocs.SlicePlane, n int) ([]ocs.RenderRecord, error)
}

// Outcomes is notified of every completion. *metrics.Collectors satisfies it.
type Outcomes interface {
	Fetch(outcome string)
	Slice(outcome string)
}

type nopOutcomes struct{}

func (nopOutcomes) Fetch(string) {}
func (nopOutcomes) Slice(string) {}
