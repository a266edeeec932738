package router

import (
	"strings"
	"time"

	"stockwatch/internal/storage"
	"stockwatch/internal/tracker"
	"stockwatch/pkg/tgui"
)

const (
	timeLayout      = "02 Jan 2006 15:04:05 MST"
	neverAvailable  = "Not seen in stock yet"
	fallbackProduct = "Product"
	maxProductRunes = 80
)

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format(timeLayout)
}

func statusLabel(s storage.Status) string {
	switch s {
	case storage.StatusInStock:
		return "🟢 In stock"
	case storage.StatusOutOfStock:
		return "🔴 Out of stock"
	default:
		return "⚪ Unknown"
	}
}

func productName(name string) string {
	if strings.TrimSpace(name) == "" {
		name = fallbackProduct
	}
	return tgui.TruncRunes(name, maxProductRunes)
}

// formatStatus renders the /status report.
func formatStatus(rec storage.Record, loc *time.Location) string {
	lastAvail := neverAvailable
	if rec.LastAvailable != nil {
		lastAvail = formatTime(*rec.LastAvailable, loc)
	}
	lines := []string{
		"📦 " + tgui.Link(productName(rec.ProductName), rec.ProductURL).String(),
		"Pincode: " + tgui.Code(rec.PostalCode).String(),
		"",
		tgui.B("Tracking since:").String() + " " + tgui.Esc(formatTime(rec.TrackingStarted, loc)).String(),
		tgui.B("Last checked:").String() + " " + tgui.Esc(formatTime(rec.LastChecked, loc)).String(),
		tgui.B("Last available:").String() + " " + tgui.Esc(lastAvail).String(),
		tgui.B("Current status:").String() + " " + statusLabel(rec.CurrentStatus),
	}
	if !rec.Active {
		lines = append(lines, "", tgui.I("Tracking is stopped. Send /track to start again.").String())
	}
	return strings.Join(lines, "\n")
}

// formatSubscription renders the /list entry.
func formatSubscription(sub tracker.Subscription, loc *time.Location) string {
	return strings.Join([]string{
		"🔎 " + tgui.B("Tracking").String(),
		tgui.Link(productName(sub.ProductName), sub.ProductURL).String(),
		"Pincode: " + tgui.Code(sub.PostalCode).String(),
		"Since: " + tgui.Esc(formatTime(sub.Since, loc)).String(),
		"Last known: " + statusLabel(sub.LastKnown),
	}, "\n")
}

func greeting(host string) string {
	return strings.Join([]string{
		"👋 " + tgui.B("Stock watch").String(),
		"I check whether a product from " + tgui.Esc(host).String() + " can be delivered to your pincode and message you when that changes.",
		"",
		"Send /track to start.",
	}, "\n")
}

func helpText(cmds []Command) string {
	var b strings.Builder
	b.WriteString("🧭 ")
	b.WriteString(tgui.B("Commands").String())
	for _, c := range cmds {
		b.WriteString("\n/")
		b.WriteString(c.Name)
		b.WriteString(" - ")
		b.WriteString(tgui.Esc(c.Description).String())
	}
	return b.String()
}
