// Package memory provides the shared, module-keyed activity log written by
// tools and the dispatcher. The agent core only ever writes to it.
package memory

import (
	"context"
	"errors"
	"time"
)

// Sink is an append-only log keyed by module name. Implementations must be
// safe for concurrent use by independent sessions.
type Sink interface {
	AddToModule(ctx context.Context, module, role, text string) error
}

// Entry is one record written to a module.
type Entry struct {
	Module    string    `json:"module"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Discard drops every write.
var Discard Sink = discard{}

type discard struct{}

func (discard) AddToModule(context.Context, string, string, string) error { return nil }

// Fanout writes every entry to all sinks. Errors are joined; a failing sink
// does not stop the others.
func Fanout(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return fanout(filtered)
}

type fanout []Sink

func (f fanout) AddToModule(ctx context.Context, module, role, text string) error {
	var errs []error
	for _, s := range f {
		if err := s.AddToModule(ctx, module, role, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
