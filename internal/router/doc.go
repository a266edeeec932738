// Package router turns inbound chat messages into tracker operations.
//
// Commands (/start, /track, /status, /stop, /list, /help) are matched first;
// any other text is interpreted by the sender's enrollment state. Updates are
// handled by a bounded worker pool, and every message of one chat goes to the
// same worker so a subscriber's inputs apply in order.
package router
