// Package browser implements probe.Fetcher with headless Chrome via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"stockwatch/internal/probe"
	logx "stockwatch/pkg/logx"
)

// settle gives a click time to start re-rendering before the next wait.
const settle = 300 * time.Millisecond

// Config controls the headless browser.
type Config struct {
	// MaxParallel caps open tabs; 0 means unlimited.
	MaxParallel int
	UserAgent   string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Fetcher opens one tab per Load in a shared browser process.
type Fetcher struct {
	cfg         Config
	log         logx.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

var _ probe.Fetcher = (*Fetcher)(nil)

// New creates the allocator. Chrome itself starts on the first Load.
func New(cfg Config, log logx.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "probe.browser")),
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Load opens a tab and navigates it to url.
func (f *Fetcher) Load(ctx context.Context, url string) (probe.Document, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	d := &document{fetcher: f, tab: tabCtx, cancel: tabCancel}

	// The first Run allocates the tab; it must not run under a timeout child
	// or the tab dies with it.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err == nil {
		err = d.run(ctx,
			f.networkSetupAction(),
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	}
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("chromedp navigate: %w", err)
	}
	f.log.Trace("tab opened", logx.String("url", url))
	return d, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

type document struct {
	fetcher *Fetcher
	tab     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// run executes actions on the tab, bounded by ctx without tying the tab's
// lifetime to it.
func (d *document) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.tab)
	if dl, ok := ctx.Deadline(); ok {
		cancel()
		runCtx, cancel = context.WithDeadline(d.tab, dl)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

func (d *document) WaitPresent(ctx context.Context, sel string) error {
	return d.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (d *document) WaitAbsent(ctx context.Context, sel string) error {
	return d.run(ctx, chromedp.WaitNotPresent(sel, chromedp.ByQuery))
}

func (d *document) Snapshot(ctx context.Context) (*goquery.Document, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("read dom: %w", err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (d *document) Type(ctx context.Context, sel, text string) error {
	return d.run(ctx,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

func (d *document) Click(ctx context.Context, sel string, index int) error {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll)); err != nil {
		return err
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("click %s[%d]: only %d matches", strings.TrimSpace(sel), index, len(nodes))
	}
	return d.run(ctx, chromedp.MouseClickNode(nodes[index]), chromedp.Sleep(settle))
}

// Close closes the tab and frees its slot. Safe to call more than once.
func (d *document) Close() error {
	d.once.Do(func() {
		d.cancel()
		d.fetcher.release()
	})
	return nil
}
