// Package static implements probe.Fetcher over plain HTTP with colly.
//
// Pages are not rendered, so storefronts that gate availability behind a
// JavaScript location widget need the browser fetcher instead. Type and Click
// report probe.ErrUnsupported.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"stockwatch/internal/probe"
)

// Config controls the collector.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher loads pages with a cloned colly collector per request.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

var _ probe.Fetcher = (*Fetcher)(nil)

func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, base: c}
}

// Load fetches url and parses the body once.
func (f *Fetcher) Load(ctx context.Context, url string) (probe.Document, error) {
	var (
		body     []byte
		fetchErr error
	)
	c := f.base.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("colly response failed: %w", fetchErr)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &document{doc: doc}, nil
}

type document struct {
	doc *goquery.Document
}

func (d *document) WaitPresent(ctx context.Context, sel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.doc.Find(sel).Length() == 0 {
		return fmt.Errorf("%q not present in static page", sel)
	}
	return nil
}

func (d *document) WaitAbsent(ctx context.Context, sel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.doc.Find(sel).Length() > 0 {
		return fmt.Errorf("%q present in static page", sel)
	}
	return nil
}

func (d *document) Snapshot(ctx context.Context) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.doc, nil
}

func (d *document) Type(context.Context, string, string) error {
	return fmt.Errorf("static type: %w", probe.ErrUnsupported)
}

func (d *document) Click(context.Context, string, int) error {
	return fmt.Errorf("static click: %w", probe.ErrUnsupported)
}

func (d *document) Close() error { return nil }

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
