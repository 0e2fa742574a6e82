package scrape

import (
	"time"
)

// Target names one unit of work, usually a URL. The core never rewrites it.
type Target string

// String returns the raw target identifier.
func (t Target) String() string {
	return string(t)
}

// Status is the tag of an Outcome.
type Status string

// Outcome status values written to result artifacts.
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// FailureKind classifies why a target failed.
type FailureKind string

// Failure kinds recorded on failed outcomes.
const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureProtocol   FailureKind = "protocol"
	FailureFetcher    FailureKind = "fetcher"
	FailureCanceled   FailureKind = "canceled"
)

// DefaultExcerptLimit caps the body excerpt stored on successful outcomes.
const DefaultExcerptLimit = 500

// FetchResult is what a Fetcher returns for a response that arrived.
type FetchResult struct {
	StatusCode int
	Body       []byte
	// Truncated is set when the body was cut off at the fetcher's size cap.
	Truncated bool
}

// Outcome is the recorded result of attempting one Target. Exactly one of the
// success fields (Code, Excerpt) or failure fields (Reason, Kind) is populated,
// selected by Status.
type Outcome struct {
	Target      Target        `json:"target"`
	Status      Status        `json:"status"`
	Code        int           `json:"code,omitempty"`
	Excerpt     string        `json:"excerpt,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Kind        FailureKind   `json:"kind,omitempty"`
	Worker      string        `json:"worker,omitempty"`
	Duration    time.Duration `json:"-"`
	DurationMs  int64         `json:"duration_ms"`
	Bytes       int           `json:"bytes,omitempty"`
	Truncated   bool          `json:"truncated,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
}

// Succeeded builds a success Outcome, truncating the body to limit runes.
func Succeeded(target Target, result FetchResult, limit int) Outcome {
	return Outcome{
		Target:    target,
		Status:    StatusSuccess,
		Code:      result.StatusCode,
		Excerpt:   Excerpt(result.Body, limit),
		Bytes:     len(result.Body),
		Truncated: result.Truncated,
	}
}

// Failed builds a failure Outcome.
func Failed(target Target, kind FailureKind, reason string) Outcome {
	return Outcome{
		Target: target,
		Status: StatusFailure,
		Reason: reason,
		Kind:   kind,
	}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// WithTiming stamps the worker label and elapsed time on the outcome.
func (o Outcome) WithTiming(worker string, elapsed time.Duration) Outcome {
	o.Worker = worker
	o.Duration = elapsed
	o.DurationMs = elapsed.Milliseconds()
	return o
}

// Batch is a finished run handed to sinks.
type Batch struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Workers    int       `json:"workers"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Summary tallies a batch.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summary counts successes and failures in the batch.
func (b Batch) Summary() Summary {
	s := Summary{Total: len(b.Outcomes)}
	for _, o := range b.Outcomes {
		if o.OK() {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}
