// Package probe decides whether a product can be bought for a postal code.
//
// A Prober drives a Fetcher: it loads the product page, picks the delivery
// location through the storefront's pincode widget, waits for the product
// details and reads three signals from a DOM snapshot. The product counts as
// available only when no sold-out marker and no notify-me marker are present
// and the purchase button is enabled.
//
// Fetcher implementations live in subpackages: browser (headless Chrome via
// chromedp) and static (plain HTTP via colly, no JavaScript).
package probe
