// Package notifier delivers messages to subscribers.
//
// Send only enqueues. A small worker pool drains the queue through a
// transport.Sender behind a token-bucket rate limiter, so a burst of status
// changes cannot trip Telegram's flood limits or block a probe cycle.
//
// Delivery is best-effort: a failed send is logged as an *Error and counted,
// never retried. The next status change produces a fresh message anyway.
package notifier
