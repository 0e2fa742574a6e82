package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestExcerpt(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		body  []byte
		limit int
		want  string
	}{
		{"short body kept", []byte("hello"), 10, "hello"},
		{"truncated to limit", []byte("hello world"), 5, "hello"},
		{"multibyte runes not split", []byte("сапёр.com"), 4, "сапё"},
		{"default limit", []byte(strings.Repeat("a", 600)), 0, strings.Repeat("a", DefaultExcerptLimit)},
		{"empty body", nil, 10, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Excerpt(tc.body, tc.limit))
		})
	}
}

func TestExcerptInvalidUTF8(t *testing.T) {
	t.Parallel()

	got := Excerpt([]byte{0xff, 'a', 'b'}, 2)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, 2, utf8.RuneCountInString(got))
}

func TestSucceededAndFailed(t *testing.T) {
	t.Parallel()

	ok := Succeeded("https://example.com", FetchResult{StatusCode: 404, Body: []byte("not found")}, 3)
	require.True(t, ok.OK())
	require.Equal(t, 404, ok.Code)
	require.Equal(t, "not", ok.Excerpt)
	require.Equal(t, 9, ok.Bytes)
	require.False(t, ok.Truncated)
	require.Empty(t, ok.Reason)

	capped := Succeeded("https://big.example", FetchResult{StatusCode: 200, Body: []byte("0123"), Truncated: true}, 0)
	require.True(t, capped.Truncated)
	require.Equal(t, 4, capped.Bytes)

	failed := Failed("https://example.com", FailureConnection, "connection refused")
	require.False(t, failed.OK())
	require.Equal(t, StatusFailure, failed.Status)
	require.Zero(t, failed.Code)
	require.Empty(t, failed.Excerpt)

	timed := failed.WithTiming("worker-2", 1500*time.Millisecond)
	require.Equal(t, "worker-2", timed.Worker)
	require.Equal(t, int64(1500), timed.DurationMs)
	require.Empty(t, failed.Worker, "WithTiming must not mutate the receiver")
}

func TestBatchSummary(t *testing.T) {
	t.Parallel()

	b := Batch{Outcomes: []Outcome{
		Succeeded("a", FetchResult{StatusCode: 200}, 0),
		Failed("b", FailureTimeout, "deadline"),
		Succeeded("c", FetchResult{StatusCode: 500}, 0),
	}}
	require.Equal(t, Summary{Total: 3, Succeeded: 2, Failed: 1}, b.Summary())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), FailureTimeout},
		{"canceled", context.Canceled, FailureCanceled},
		{"net timeout", &url.Error{Op: "Get", URL: "https://x", Err: timeoutErr{}}, FailureTimeout},
		{"refused", &url.Error{Op: "Get", URL: "https://x", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}, FailureConnection},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, FailureConnection},
		{"url error", &url.Error{Op: "Get", URL: "https://x", Err: errors.New("malformed HTTP response")}, FailureProtocol},
		{"other", errors.New("Forbidden domain"), FailureFetcher},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			kind, reason := Classify(tc.err)
			require.Equal(t, tc.want, kind)
			require.Equal(t, tc.err.Error(), reason)
		})
	}

	kind, reason := Classify(nil)
	require.Empty(t, kind)
	require.Empty(t, reason)
}
