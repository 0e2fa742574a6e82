// Package results holds the append-only outcome collector shared by the
// workers of one batch.
package results

import (
	"errors"
	"sync"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

// ErrFrozen is returned by Append once the collector has been handed back.
var ErrFrozen = errors.New("collector frozen")

// Collector is a concurrency-safe, append-only list of outcomes.
type Collector struct {
	mu       sync.Mutex
	outcomes []scrape.Outcome
	frozen   bool
}

// NewCollector returns an empty collector sized for capacity outcomes.
func NewCollector(capacity int) *Collector {
	if capacity < 0 {
		capacity = 0
	}
	return &Collector{outcomes: make([]scrape.Outcome, 0, capacity)}
}

// Append records one outcome.
func (c *Collector) Append(outcome scrape.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}
	c.outcomes = append(c.outcomes, outcome)
	return nil
}

// Len returns the number of recorded outcomes.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outcomes)
}

// Freeze stops further appends and returns a copy of the outcomes. It may be
// called more than once.
func (c *Collector) Freeze() []scrape.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
	out := make([]scrape.Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}
