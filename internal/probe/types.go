package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Signals are the raw observations a verdict is derived from.
type Signals struct {
	SoldOut         bool
	NotifyMe        bool
	PurchaseEnabled bool
}

// Available applies the verdict rule: any single negative signal wins.
func (s Signals) Available() bool {
	return !s.SoldOut && !s.NotifyMe && s.PurchaseEnabled
}

// Verdict is the outcome of one probe.
type Verdict struct {
	Available   bool
	ProductName string
	Signals     Signals
}

// Fetcher opens product pages.
type Fetcher interface {
	// Load navigates to url. ctx bounds the navigation only; the returned
	// Document stays usable until Close.
	Load(ctx context.Context, url string) (Document, error)
}

// Document is one loaded page. Every method honours ctx's deadline.
type Document interface {
	// WaitPresent blocks until sel matches a visible element.
	WaitPresent(ctx context.Context, sel string) error
	// WaitAbsent blocks until sel matches nothing.
	WaitAbsent(ctx context.Context, sel string) error
	// Snapshot returns the current DOM.
	Snapshot(ctx context.Context) (*goquery.Document, error)
	// Type sends text to the first element matching sel.
	Type(ctx context.Context, sel, text string) error
	// Click clicks the index-th (0-based) element matching sel.
	Click(ctx context.Context, sel string, index int) error
	Close() error
}

// ErrUnsupported is returned by documents that cannot interact with the page.
var ErrUnsupported = errors.New("operation not supported by this fetcher")

// Error is a failed probe. Callers keep the last known status when they see one.
type Error struct {
	URL  string
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.URL, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsProbeError reports whether err is (or wraps) an *Error.
func IsProbeError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// Selectors locate the storefront's page elements.
type Selectors struct {
	LocationWidget string
	PostalInput    string
	Suggestion     string
	ProductDetail  string
	SoldOut        string
	NotifyMe       string
	PurchaseButton string
	Title          string
	// Availability is the schema.org availability link; "OutOfStock" in its
	// href counts as a sold-out marker.
	Availability string
}

func DefaultSelectors() Selectors {
	return Selectors{
		LocationWidget: "#locationWidgetModal",
		PostalInput:    "#locationWidgetModal input#search",
		Suggestion:     "#automatic .searchitem-name",
		ProductDetail:  ".product-details",
		SoldOut:        ".product-details .alert-danger",
		NotifyMe:       ".product-details .product_enquiry",
		PurchaseButton: ".product-details .add-to-cart",
		Title:          ".product-details h1.product-name",
		Availability:   `link[itemprop="availability"]`,
	}
}

// Merge fills empty fields of s from def.
func (s Selectors) Merge(def Selectors) Selectors {
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	return Selectors{
		LocationWidget: pick(s.LocationWidget, def.LocationWidget),
		PostalInput:    pick(s.PostalInput, def.PostalInput),
		Suggestion:     pick(s.Suggestion, def.Suggestion),
		ProductDetail:  pick(s.ProductDetail, def.ProductDetail),
		SoldOut:        pick(s.SoldOut, def.SoldOut),
		NotifyMe:       pick(s.NotifyMe, def.NotifyMe),
		PurchaseButton: pick(s.PurchaseButton, def.PurchaseButton),
		Title:          pick(s.Title, def.Title),
		Availability:   pick(s.Availability, def.Availability),
	}
}

// Config bounds each wait of a probe.
type Config struct {
	NavigationTimeout time.Duration
	SuggestionTimeout time.Duration
	ContentTimeout    time.Duration
	// PollInterval is how often predicate waits re-read the DOM.
	PollInterval time.Duration
	Selectors    Selectors
}
