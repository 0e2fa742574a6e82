// Package sink delivers finished batches to their configured destinations.
package sink

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

// Named pairs a sink with the label used in errors and logs.
type Named struct {
	Name string
	Sink scrape.Sink
}

// Fanout writes a batch to every sink concurrently.
type Fanout struct {
	sinks []Named
}

// NewFanout builds a Fanout. Nil sinks are skipped.
func NewFanout(sinks ...Named) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s.Sink != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len reports how many sinks are attached.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Write hands batch to every sink. A failing sink does not stop the others;
// the first error is returned once all have finished.
func (f *Fanout) Write(ctx context.Context, batch scrape.Batch) error {
	var g errgroup.Group
	for _, s := range f.sinks {
		g.Go(func() error {
			if err := s.Sink.Write(ctx, batch); err != nil {
				return fmt.Errorf("sink %s: %w", s.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("write batch %s: %w", batch.ID, err)
	}
	return nil
}
