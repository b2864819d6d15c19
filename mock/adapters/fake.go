// Package adapters provides an in-process fake implementing
// internal/adapters.Adapter, used by the router's own tests in place of the
// teacher's mock/providers HTTP servers — the router never does network I/O
// itself, so an in-process fake is the narrower and faster equivalent for
// its unit tests.
package adapters

import (
	"context"

	"github.com/nulpointcorp/summary-router/internal/adapters"
)

// Fake is a scriptable adapters.Adapter. Calls records every invocation's
// Request in order, for assertions about what the router actually sent.
type Fake struct {
	KindName string
	Results  []Outcome // consumed in order, one per Summarise call; last is reused once exhausted
	Calls    []adapters.Request
}

// Outcome is one scripted result for a Fake's Summarise call.
type Outcome struct {
	Result adapters.Result
	Err    error
}

func New(kind string, outcomes ...Outcome) *Fake {
	return &Fake{KindName: kind, Results: outcomes}
}

func (f *Fake) Kind() string { return f.KindName }

func (f *Fake) Summarise(_ context.Context, req adapters.Request) (adapters.Result, error) {
	f.Calls = append(f.Calls, req)
	if len(f.Results) == 0 {
		return adapters.Result{}, nil
	}
	idx := len(f.Calls) - 1
	if idx >= len(f.Results) {
		idx = len(f.Results) - 1
	}
	o := f.Results[idx]
	return o.Result, o.Err
}
