package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"stockwatch/internal/notifier"
	"stockwatch/internal/probe"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/storage"
)

// State is a subscriber's position in the enrollment conversation.
type State int

const (
	StateAwaitingProductRef State = iota + 1
	StateAwaitingPostalCode
	StateActive
)

func (s State) String() string {
	switch s {
	case StateAwaitingProductRef:
		return "awaiting_product_ref"
	case StateAwaitingPostalCode:
		return "awaiting_postal_code"
	case StateActive:
		return "active"
	default:
		return "none"
	}
}

// Subscription is a point-in-time view of one subscriber's tracking.
type Subscription struct {
	SubscriberID int64
	ProductURL   string
	PostalCode   string
	ProductName  string
	// Schedule is the scheduler entry name owned by this subscription.
	Schedule  string
	State     State
	LastKnown storage.Status
	Since     time.Time
}

// Key is the store key of this subscription.
func (s Subscription) Key() string {
	return storage.Key(s.SubscriberID, s.ProductURL, s.PostalCode)
}

// entry is the manager-owned mutable subscription. Fields of the embedded
// Subscription are guarded by Manager.mu.
type entry struct {
	Subscription
	gen      uint64
	inflight atomic.Bool
}

// ValidationError is bad user input. The conversation state is unchanged.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

var (
	// ErrNoSession is returned when free text arrives with no enrollment in progress.
	ErrNoSession = errors.New("no enrollment in progress")
	// ErrWrongState is returned when input does not fit the current step.
	ErrWrongState = errors.New("input not expected in current state")
)

// Prober checks live availability.
type Prober interface {
	Probe(ctx context.Context, productURL, postalCode string) (probe.Verdict, error)
}

// Notifier delivers best-effort messages to a subscriber.
type Notifier interface {
	Send(ctx context.Context, recipientID int64, text string, opt notifier.Options) error
}

// Scheduler runs named recurring jobs.
type Scheduler interface {
	Add(name, schedule string, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
}

// Config controls subscriptions.
type Config struct {
	// Interval accepts anything scheduler.ParseSchedule does.
	Interval       string
	StorefrontHost string
	CycleTimeout   time.Duration
}
