package notifier

import "fmt"

// Config controls the async notification pipeline.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

// Options are per-message formatting flags.
type Options struct {
	// Rich renders the text as Telegram HTML.
	Rich bool
}

// Error is a failed delivery.
type Error struct {
	RecipientID int64
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notify %d: %v", e.RecipientID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
