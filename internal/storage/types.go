package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON document (default)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Status string

const (
	StatusUnknown    Status = "Unknown"
	StatusInStock    Status = "InStock"
	StatusOutOfStock Status = "OutOfStock"
)

// StatusOf maps a probe verdict to a status.
func StatusOf(available bool) Status {
	if available {
		return StatusInStock
	}
	return StatusOutOfStock
}

// Record is the persisted last-known state of one subscription key.
type Record struct {
	ProductURL      string     `json:"productUrl"`
	PostalCode      string     `json:"pincode"`
	ProductName     string     `json:"productName"`
	TrackingStarted time.Time  `json:"trackingStarted"`
	LastAvailable   *time.Time `json:"lastAvailable"`
	CurrentStatus   Status     `json:"currentStatus"`
	LastChecked     time.Time  `json:"lastChecked"`
	// Active is false once the subscriber stopped tracking this key. Restart
	// recovery only revives active records.
	Active bool `json:"active"`
}

// Key builds the composite subscription key.
func Key(subscriberID int64, productURL, postalCode string) string {
	return strconv.FormatInt(subscriberID, 10) + "_" + productURL + "_" + postalCode
}

// Touch folds one successful observation into rec.
//   - TrackingStarted is set once
//   - LastAvailable only moves forward and only on InStock
//   - an empty name keeps the previous one
func Touch(rec *Record, status Status, name string, now time.Time) {
	now = now.UTC()
	if rec.TrackingStarted.IsZero() {
		rec.TrackingStarted = now
	}
	if name != "" {
		rec.ProductName = name
	}
	rec.CurrentStatus = status
	rec.LastChecked = now
	if status == StatusInStock && (rec.LastAvailable == nil || now.After(*rec.LastAvailable)) {
		t := now
		rec.LastAvailable = &t
	}
}

// Mutator edits rec in place. exists is false for a fresh zero record.
// Returning an error aborts the write.
type Mutator func(rec *Record, exists bool) error

// Store is the persistence API used by the tracker.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Upsert(ctx context.Context, key string, fn Mutator) (Record, error)
	List(ctx context.Context) (map[string]Record, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Error is a read or write failure of the backing store.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
