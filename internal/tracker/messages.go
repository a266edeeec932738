package tracker

import (
	"errors"
	"strings"

	"stockwatch/internal/probe"
	"stockwatch/internal/storage"
	"stockwatch/pkg/tgui"
)

const maxErrRunes = 200

// statusText is the change notification for a new status.
func statusText(sub Subscription, status storage.Status) string {
	name := sub.ProductName
	if name == "" {
		name = "Product"
	}
	var b strings.Builder
	switch status {
	case storage.StatusInStock:
		b.WriteString("🟢 ")
		b.WriteString(tgui.B("Product is BACK IN STOCK!").String())
	default:
		b.WriteString("🔴 ")
		b.WriteString(tgui.B("Out of stock").String())
		b.WriteString(" - I'll keep checking.")
	}
	b.WriteString("\n")
	b.WriteString(tgui.Link(name, sub.ProductURL).String())
	b.WriteString("\nPincode: ")
	b.WriteString(tgui.Code(sub.PostalCode).String())
	return b.String()
}

// probeFailedText reports one failed check.
func probeFailedText(sub Subscription, err error) string {
	reason := err.Error()
	var pe *probe.Error
	if errors.As(err, &pe) && pe.Err != nil {
		reason = pe.Step + ": " + pe.Err.Error()
	}
	return "⚠️ " + tgui.B("Could not check availability").String() +
		" for " + tgui.Code(sub.PostalCode).String() + ".\n" +
		tgui.Esc(tgui.TruncRunes(reason, maxErrRunes)).String() +
		"\nI'll try again on the next check."
}
