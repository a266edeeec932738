package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockwatch/internal/metrics"
	"stockwatch/internal/notifier"
	"stockwatch/internal/storage"
	logx "stockwatch/pkg/logx"
)

const schedulePrefix = "sub:"

var (
	errNoRecord = errors.New("no record")
	errStale    = errors.New("stale generation")
)

type session struct {
	state      State
	productURL string
}

type Manager struct {
	mu sync.Mutex

	cfg     Config
	store   storage.Store
	prober  Prober
	notify  Notifier
	sched   Scheduler
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time

	gen      uint64
	subs     map[int64]*entry
	sessions map[int64]*session
	// last remembers the most recent subscription per subscriber so status
	// queries keep working after a stop.
	last map[int64]Subscription
}

func NewManager(cfg Config, store storage.Store, p Prober, n Notifier, s Scheduler, m *metrics.Metrics, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Interval) == "" {
		cfg.Interval = "2m"
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 90 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		prober:   p,
		notify:   n,
		sched:    s,
		metrics:  m,
		log:      log.With(logx.String("comp", "tracker")),
		now:      time.Now,
		subs:     map[int64]*entry{},
		sessions: map[int64]*session{},
		last:     map[int64]Subscription{},
	}
}

// SetInterval changes the poll interval for subscriptions created afterwards.
func (m *Manager) SetInterval(interval string) {
	if strings.TrimSpace(interval) == "" {
		return
	}
	m.mu.Lock()
	m.cfg.Interval = interval
	m.mu.Unlock()
}

// SetStorefrontHost changes the host accepted by future product links.
func (m *Manager) SetStorefrontHost(host string) {
	m.mu.Lock()
	m.cfg.StorefrontHost = host
	m.mu.Unlock()
}

// StorefrontHost returns the host product links must point at.
func (m *Manager) StorefrontHost() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.StorefrontHost
}

// Subscribe validates input, replaces any prior subscription, runs one probe
// cycle immediately and then installs the recurring schedule.
func (m *Manager) Subscribe(ctx context.Context, subscriberID int64, productURL, postalCode string) (Subscription, error) {
	productURL = strings.TrimSpace(productURL)
	postalCode = strings.TrimSpace(postalCode)
	if err := ValidatePostalCode(postalCode); err != nil {
		return Subscription{}, err
	}
	if err := ValidateProductURL(productURL, m.StorefrontHost()); err != nil {
		return Subscription{}, err
	}
	return m.install(ctx, Subscription{
		SubscriberID: subscriberID,
		ProductURL:   productURL,
		PostalCode:   postalCode,
		LastKnown:    storage.StatusUnknown,
	}, true)
}

// install registers sub and, when probeNow is set, runs one synchronous cycle
// before the schedule goes live.
func (m *Manager) install(ctx context.Context, sub Subscription, probeNow bool) (Subscription, error) {
	sub.Schedule = schedulePrefix + strconv.FormatInt(sub.SubscriberID, 10)
	sub.State = StateActive
	sub.Since = m.now().UTC()

	m.mu.Lock()
	prev := m.removeLocked(sub.SubscriberID)
	m.gen++
	e := &entry{Subscription: sub, gen: m.gen}
	m.subs[sub.SubscriberID] = e
	m.last[sub.SubscriberID] = sub
	delete(m.sessions, sub.SubscriberID)
	gen := e.gen
	m.mu.Unlock()

	if prev != nil && prev.Key() != sub.Key() {
		m.deactivate(prev.Key())
	}

	log := m.log.With(logx.Int64("subscriber", sub.SubscriberID), logx.String("url", sub.ProductURL), logx.String("pincode", sub.PostalCode))
	if probeNow {
		// Persist the enrollment before probing; the first probe may fail.
		m.activate(ctx, log, sub, e, gen)
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CycleTimeout)
		m.runProbeCycle(cctx, e, gen)
		cancel()
	}

	m.mu.Lock()
	if m.subs[sub.SubscriberID] != e || e.gen != gen {
		// Replaced or stopped while the first probe ran.
		gone := e.Subscription
		m.mu.Unlock()
		return gone, nil
	}
	err := m.sched.Add(sub.Schedule, m.cfg.Interval, m.cfg.CycleTimeout, func(ctx context.Context) error {
		m.runProbeCycle(ctx, e, gen)
		return nil
	})
	if err != nil {
		delete(m.subs, sub.SubscriberID)
		e.gen++
		m.metrics.SetActiveSubscriptions(len(m.subs))
		m.mu.Unlock()
		m.deactivate(sub.Key())
		return Subscription{}, fmt.Errorf("install schedule %q: %w", m.cfg.Interval, err)
	}
	m.metrics.SetActiveSubscriptions(len(m.subs))
	installed := e.Subscription
	m.mu.Unlock()

	log.Info("subscription active", logx.String("schedule", sub.Schedule), logx.String("interval", m.cfg.Interval))
	return installed, nil
}

// activate writes the active flag for a new or re-enrolled subscription. The
// stored status is left alone.
func (m *Manager) activate(ctx context.Context, log logx.Logger, sub Subscription, e *entry, gen uint64) {
	now := m.now().UTC()
	_, err := m.store.Upsert(ctx, sub.Key(), func(rec *storage.Record, exists bool) error {
		if !m.current(e, gen) {
			return errStale
		}
		if !exists {
			rec.ProductURL = sub.ProductURL
			rec.PostalCode = sub.PostalCode
			rec.CurrentStatus = storage.StatusUnknown
		}
		if rec.TrackingStarted.IsZero() {
			rec.TrackingStarted = now
		}
		rec.Active = true
		return nil
	})
	if err != nil && !errors.Is(err, errStale) {
		log.Error("status record activate failed", logx.Err(err))
	}
}

// Unsubscribe stops tracking. It reports false when there was nothing to stop.
// The persisted record is kept.
func (m *Manager) Unsubscribe(subscriberID int64) bool {
	m.mu.Lock()
	delete(m.sessions, subscriberID)
	e := m.removeLocked(subscriberID)
	m.mu.Unlock()
	if e == nil {
		return false
	}

	m.deactivate(e.Key())
	m.log.Info("subscription stopped", logx.Int64("subscriber", subscriberID), logx.String("url", e.ProductURL))
	return true
}

// removeLocked cancels the schedule and voids in-flight cycles. The caller
// holds m.mu.
func (m *Manager) removeLocked(subscriberID int64) *Subscription {
	e, ok := m.subs[subscriberID]
	if !ok {
		return nil
	}
	m.sched.Remove(e.Schedule)
	e.gen++
	delete(m.subs, subscriberID)
	m.metrics.SetActiveSubscriptions(len(m.subs))
	sub := e.Subscription
	return &sub
}

// deactivate marks key stopped so restart recovery skips it.
func (m *Manager) deactivate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.store.Upsert(ctx, key, func(rec *storage.Record, exists bool) error {
		if !exists {
			return errNoRecord
		}
		rec.Active = false
		return nil
	})
	if err != nil && !errors.Is(err, errNoRecord) {
		m.log.Warn("status record deactivate failed", logx.String("key", key), logx.Err(err))
	}
}

func (m *Manager) current(e *entry, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.gen == gen && m.subs[e.SubscriberID] == e
}

// runProbeCycle probes once and folds the verdict into the store and the
// subscriber's last known status. Errors end here.
func (m *Manager) runProbeCycle(ctx context.Context, e *entry, gen uint64) {
	if !e.inflight.CompareAndSwap(false, true) {
		m.metrics.ObserveProbe(metrics.OutcomeSkipped, 0)
		m.log.Debug("probe cycle skipped; previous still running", logx.Int64("subscriber", e.SubscriberID))
		return
	}
	defer e.inflight.Store(false)

	if !m.current(e, gen) {
		return
	}
	m.mu.Lock()
	sub := e.Subscription
	m.mu.Unlock()

	log := m.log.With(
		logx.String("cycle", uuid.NewString()),
		logx.Int64("subscriber", sub.SubscriberID),
		logx.String("url", sub.ProductURL),
		logx.String("pincode", sub.PostalCode),
	)

	start := m.now()
	v, err := m.prober.Probe(ctx, sub.ProductURL, sub.PostalCode)
	took := time.Since(start)
	if err != nil {
		m.metrics.ObserveProbe(metrics.OutcomeError, took.Seconds())
		log.Warn("probe failed", logx.Duration("dur", took), logx.Err(err))
		if !m.current(e, gen) {
			return
		}
		m.send(ctx, log, sub.SubscriberID, probeFailedText(sub, err))
		return
	}

	status := storage.StatusOf(v.Available)
	outcome := metrics.OutcomeOutOfStock
	if v.Available {
		outcome = metrics.OutcomeInStock
	}
	m.metrics.ObserveProbe(outcome, took.Seconds())

	if !m.current(e, gen) {
		log.Debug("probe result dropped; subscription gone")
		return
	}

	now := m.now()
	_, err = m.store.Upsert(ctx, sub.Key(), func(rec *storage.Record, exists bool) error {
		// Re-checked under the store's key lock so a concurrent stop wins.
		if !m.current(e, gen) {
			return errStale
		}
		if !exists {
			rec.ProductURL = sub.ProductURL
			rec.PostalCode = sub.PostalCode
		}
		rec.Active = true
		storage.Touch(rec, status, v.ProductName, now)
		return nil
	})
	switch {
	case errors.Is(err, errStale):
		log.Debug("probe result dropped; subscription gone")
		return
	case err != nil:
		log.Error("status write failed", logx.Err(err))
	}

	m.mu.Lock()
	if e.gen != gen || m.subs[e.SubscriberID] != e {
		m.mu.Unlock()
		return
	}
	prev := e.LastKnown
	changed := prev != status
	if v.ProductName != "" {
		e.ProductName = v.ProductName
	}
	if changed {
		e.LastKnown = status
	}
	sub = e.Subscription
	m.last[sub.SubscriberID] = sub
	m.mu.Unlock()

	log.Debug("probe ok",
		logx.Bool("available", v.Available),
		logx.String("status", string(status)),
		logx.String("prev", string(prev)),
		logx.Duration("dur", took),
	)
	if !changed {
		return
	}
	m.metrics.ObserveTransition(string(status))
	log.Info("status changed", logx.String("from", string(prev)), logx.String("to", string(status)))
	m.send(ctx, log, sub.SubscriberID, statusText(sub, status))
}

func (m *Manager) send(ctx context.Context, log logx.Logger, to int64, text string) {
	if m.notify == nil {
		return
	}
	if err := m.notify.Send(ctx, to, text, notifier.Options{Rich: true}); err != nil {
		log.Warn("notification not queued", logx.Err(err))
	}
}

// QueryStatus reads the record of the subscriber's current or most recent
// subscription. A read failure is returned alongside ok=false.
func (m *Manager) QueryStatus(ctx context.Context, subscriberID int64) (storage.Record, bool, error) {
	m.mu.Lock()
	sub, ok := m.last[subscriberID]
	m.mu.Unlock()
	if !ok {
		return storage.Record{}, false, nil
	}
	rec, found, err := m.store.Get(ctx, sub.Key())
	if err != nil {
		return storage.Record{}, false, err
	}
	return rec, found, nil
}

// Lookup returns the active subscription of subscriberID.
func (m *Manager) Lookup(subscriberID int64) (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.subs[subscriberID]
	if !ok {
		return Subscription{}, false
	}
	return e.Subscription, true
}

// Snapshot lists active subscriptions ordered by subscriber.
func (m *Manager) Snapshot() []Subscription {
	m.mu.Lock()
	out := make([]Subscription, 0, len(m.subs))
	for _, e := range m.subs {
		out = append(out, e.Subscription)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out
}

// Active returns the number of active subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close removes every schedule. Records stay active so a restart resumes them.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.subs {
		m.sched.Remove(e.Schedule)
		e.gen++
		delete(m.subs, id)
	}
	m.metrics.SetActiveSubscriptions(0)
}
