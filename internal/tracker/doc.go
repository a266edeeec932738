// Package tracker owns subscriptions: the enrollment conversation, the
// per-subscriber recurring probe and change detection against the last
// status the subscriber was told about.
//
// All subscription state is private to a Manager and reached through its
// methods. A subscriber has at most one live schedule; subscribing again
// replaces it. Probe cycles are single-flight per subscription, and a
// generation guard turns cycles captured before an unsubscribe into no-ops.
package tracker
