package probe

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const fallbackName = "Product"

// Extract reads the availability signals and display name from a snapshot.
func Extract(doc *goquery.Document, sel Selectors) (Signals, string) {
	var sig Signals
	if doc == nil {
		return sig, fallbackName
	}

	sig.SoldOut = present(doc, sel.SoldOut) || schemaOutOfStock(doc, sel.Availability)
	sig.NotifyMe = present(doc, sel.NotifyMe)

	if sel.PurchaseButton != "" {
		if btn := doc.Find(sel.PurchaseButton).First(); btn.Length() > 0 {
			sig.PurchaseEnabled = enabled(btn)
		}
	}

	name := ""
	if sel.Title != "" {
		name = strings.Join(strings.Fields(doc.Find(sel.Title).First().Text()), " ")
	}
	if name == "" {
		name = fallbackName
	}
	return sig, name
}

func present(doc *goquery.Document, sel string) bool {
	if sel == "" {
		return false
	}
	return doc.Find(sel).Length() > 0
}

// enabled is false when the element carries a disabled attribute or class.
func enabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return false
	}
	if v, ok := s.Attr("aria-disabled"); ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		return false
	}
	return !s.HasClass("disabled")
}

func schemaOutOfStock(doc *goquery.Document, sel string) bool {
	if sel == "" {
		return false
	}
	href, ok := doc.Find(sel).First().Attr("href")
	return ok && strings.Contains(href, "OutOfStock")
}
