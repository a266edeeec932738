package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	logx "stockwatch/pkg/logx"
)

// suggestionIndex is the location suggestion that gets clicked. The first
// entry is usually a stale default location; the second matches the typed code.
const suggestionIndex = 1

// Prober runs availability probes. It is safe for concurrent use; every call
// opens and closes its own document.
type Prober struct {
	fetcher Fetcher
	cfg     Config
	log     logx.Logger
}

func New(f Fetcher, cfg Config, log logx.Logger) *Prober {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.SuggestionTimeout <= 0 {
		cfg.SuggestionTimeout = 10 * time.Second
	}
	if cfg.ContentTimeout <= 0 {
		cfg.ContentTimeout = 15 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	cfg.Selectors = cfg.Selectors.Merge(DefaultSelectors())
	return &Prober{fetcher: f, cfg: cfg, log: log}
}

// Probe checks productURL for postalCode. Every failure is an *Error.
func (p *Prober) Probe(ctx context.Context, productURL, postalCode string) (Verdict, error) {
	fail := func(step string, err error) (Verdict, error) {
		return Verdict{}, &Error{URL: productURL, Step: step, Err: err}
	}
	sel := p.cfg.Selectors

	navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavigationTimeout)
	doc, err := p.fetcher.Load(navCtx, productURL)
	cancel()
	if err != nil {
		return fail("load", err)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			p.log.Debug("document close failed", logx.String("url", productURL), logx.Err(err))
		}
	}()

	snap, err := p.snapshot(ctx, doc)
	if err != nil {
		return fail("snapshot", err)
	}

	if present(snap, sel.LocationWidget) {
		if err := p.pickLocation(ctx, doc, postalCode); err != nil {
			return fail("location", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ContentTimeout)
	defer cancel()
	if err := doc.WaitAbsent(waitCtx, sel.LocationWidget); err != nil {
		return fail("location widget dismissal", err)
	}
	if err := doc.WaitPresent(waitCtx, sel.ProductDetail); err != nil {
		return fail("product detail", err)
	}

	snap, err = p.snapshot(waitCtx, doc)
	if err != nil {
		return fail("snapshot", err)
	}
	sig, name := Extract(snap, sel)
	v := Verdict{Available: sig.Available(), ProductName: name, Signals: sig}
	p.log.Debug("probe verdict",
		logx.String("url", productURL),
		logx.Bool("available", v.Available),
		logx.Bool("sold_out", sig.SoldOut),
		logx.Bool("notify_me", sig.NotifyMe),
		logx.Bool("purchase_enabled", sig.PurchaseEnabled),
	)
	return v, nil
}

// pickLocation types the postal code and clicks the second suggestion.
func (p *Prober) pickLocation(ctx context.Context, doc Document, postalCode string) error {
	sel := p.cfg.Selectors
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SuggestionTimeout)
	defer cancel()

	if err := doc.WaitPresent(ctx, sel.PostalInput); err != nil {
		return fmt.Errorf("postal input: %w", err)
	}
	if err := doc.Type(ctx, sel.PostalInput, postalCode); err != nil {
		return fmt.Errorf("type postal code: %w", err)
	}

	var count int
	err := p.waitFor(ctx, doc, func(d *goquery.Document) bool {
		count = d.Find(sel.Suggestion).Length()
		return count > suggestionIndex
	})
	if err != nil {
		return fmt.Errorf("need at least %d suggestions, saw %d: %w", suggestionIndex+1, count, err)
	}
	if err := doc.Click(ctx, sel.Suggestion, suggestionIndex); err != nil {
		return fmt.Errorf("select suggestion: %w", err)
	}
	return nil
}

func (p *Prober) snapshot(ctx context.Context, doc Document) (*goquery.Document, error) {
	snap, err := doc.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.New("empty snapshot")
	}
	return snap, nil
}

// waitFor polls snapshots until pred holds or ctx ends.
func (p *Prober) waitFor(ctx context.Context, doc Document, pred func(*goquery.Document) bool) error {
	t := time.NewTicker(p.cfg.PollInterval)
	defer t.Stop()
	for {
		snap, err := doc.Snapshot(ctx)
		if err == nil && snap != nil && pred(snap) {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return errors.Join(ctx.Err(), err)
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}
