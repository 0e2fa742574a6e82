// Package collyfetcher implements scrape.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

const (
	defaultRequestTimeout = 10 * time.Second
	// DefaultMaxBodySize matches colly's own default cap.
	DefaultMaxBodySize = 10 * 1024 * 1024
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	// Timeout bounds the HTTP exchange. The worker enforces its own deadline
	// on top of this.
	Timeout time.Duration
	// Headers are added to every request.
	Headers http.Header
	// MaxBodySize caps how many body bytes are read. Zero uses
	// DefaultMaxBodySize. A body that reaches the cap, even exactly, is
	// reported as truncated.
	MaxBodySize int
}

// Fetcher implements scrape.Fetcher using the Colly collector. Each Fetch
// runs on a clone of a base collector, so one Fetcher is safe for
// concurrent use by every worker in a pool.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = &robotsRetryTransport{base: transport}
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch performs a single HTTP GET of target. Any response that arrives,
// whatever its status code, is returned as a result; only transport-level
// problems are errors.
func (f *Fetcher) Fetch(ctx context.Context, target scrape.Target) (scrape.FetchResult, error) {
	var (
		result   scrape.FetchResult
		fetchErr error
	)
	collector := f.buildCollector(ctx, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, target.String(), &fetchErr); err != nil {
		return scrape.FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, result *scrape.FetchResult, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = f.cfg.MaxBodySize
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *scrape.FetchResult, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = scrape.FetchResult{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Truncated:  f.cfg.MaxBodySize > 0 && len(r.Body) >= f.cfg.MaxBodySize,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
