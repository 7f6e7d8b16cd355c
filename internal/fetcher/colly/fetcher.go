// Package collyfetcher implements scrape.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/tkuosman/partsmirror/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

const defaultTimeout = 15 * time.Second

// Fetcher performs single bounded-timeout retrievals. It carries no
// retry policy; recovering from a failed fetch is the caller's concern.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// FetchPage retrieves a listing page body.
func (f *Fetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	return f.get(ctx, url)
}

// FetchBytes retrieves a binary resource body.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return f.get(ctx, url)
}

// ProbeSize issues a metadata-only HEAD request and returns the reported
// content length, or -1 when the server does not advertise one.
func (f *Fetcher) ProbeSize(ctx context.Context, url string) (int64, error) {
	size := int64(-1)
	collector, failure := f.buildCollector(func(r *colly.Response) {
		if v := r.Headers.Get("Content-Length"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				size = parsed
			}
		}
	})
	if err := f.run(ctx, url, failure, func() error { return collector.Head(url) }); err != nil {
		return -1, err
	}
	return size, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	collector, failure := f.buildCollector(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	if err := f.run(ctx, url, failure, func() error { return collector.Visit(url) }); err != nil {
		return nil, err
	}
	return body, nil
}

type fetchFailure struct {
	status int
	err    error
}

func (f *Fetcher) buildCollector(onResponse colly.ResponseCallback) (*colly.Collector, *fetchFailure) {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	failure := &fetchFailure{}
	collector.OnResponse(onResponse)
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			failure.status = r.StatusCode
		}
		failure.err = err
	})
	return collector, failure
}

// run executes visit in a goroutine so that cancellation takes effect
// before the next network call begins, never mid-transfer.
func (f *Fetcher) run(ctx context.Context, url string, failure *fetchFailure, visit func() error) error {
	if err := ctx.Err(); err != nil {
		return scrape.NewAbortedError(url, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return scrape.NewAbortedError(url, ctx.Err())
	case err := <-done:
		if failure.err != nil {
			return scrape.NewNetworkError(url, failure.status, failure.err)
		}
		if err != nil {
			return scrape.NewNetworkError(url, 0, err)
		}
		return nil
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
		IdleConnTimeout:       90 * time.Second,
	}
}
