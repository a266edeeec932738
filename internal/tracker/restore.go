package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"stockwatch/internal/storage"
	logx "stockwatch/pkg/logx"
)

// Restore re-installs schedules for every active persisted record. When a
// subscriber has several active records the most recently checked one wins.
// Restored subscriptions start from the persisted status, so the first tick
// only notifies on a real change. It returns how many were restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	recs, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list status records: %w", err)
	}

	latest := map[int64]storage.Record{}
	for key, rec := range recs {
		if !rec.Active {
			continue
		}
		id, ok := subscriberFromKey(key, rec)
		if !ok {
			m.log.Warn("skipping unrecognised status key", logx.String("key", key))
			continue
		}
		if cur, seen := latest[id]; seen && !rec.LastChecked.After(cur.LastChecked) {
			continue
		}
		latest[id] = rec
	}

	host := m.StorefrontHost()
	n := 0
	for id, rec := range latest {
		if _, active := m.Lookup(id); active {
			continue
		}
		if err := ValidatePostalCode(rec.PostalCode); err != nil {
			m.log.Warn("skipping restore", logx.Int64("subscriber", id), logx.Err(err))
			continue
		}
		if err := ValidateProductURL(rec.ProductURL, host); err != nil {
			m.log.Warn("skipping restore", logx.Int64("subscriber", id), logx.Err(err))
			continue
		}
		status := rec.CurrentStatus
		if status == "" {
			status = storage.StatusUnknown
		}
		_, err := m.install(ctx, Subscription{
			SubscriberID: id,
			ProductURL:   rec.ProductURL,
			PostalCode:   rec.PostalCode,
			ProductName:  rec.ProductName,
			LastKnown:    status,
		}, false)
		if err != nil {
			m.log.Warn("restore failed", logx.Int64("subscriber", id), logx.Err(err))
			continue
		}
		n++
	}
	m.log.Info("subscriptions restored", logx.Int("restored", n), logx.Int("records", len(recs)))
	return n, nil
}

// subscriberFromKey recovers the subscriber id and checks the key matches rec.
func subscriberFromKey(key string, rec storage.Record) (int64, bool) {
	head, _, ok := strings.Cut(key, "_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, storage.Key(id, rec.ProductURL, rec.PostalCode) == key
}
