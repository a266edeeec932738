package tracker

import (
	"context"
	"strings"

	logx "stockwatch/pkg/logx"
)

// Begin resets subscriberID to AwaitingProductRef. Any enrollment in progress
// and any active subscription are dropped; this is how a subscriber starts over.
func (m *Manager) Begin(subscriberID int64) {
	m.mu.Lock()
	prev := m.removeLocked(subscriberID)
	m.sessions[subscriberID] = &session{state: StateAwaitingProductRef}
	m.mu.Unlock()

	if prev != nil {
		m.deactivate(prev.Key())
		m.log.Info("subscription reset by new enrollment", logx.Int64("subscriber", subscriberID))
	}
}

// AcceptProductRef stores the product link and moves to AwaitingPostalCode.
// An invalid link returns a *ValidationError and leaves the state unchanged.
func (m *Manager) AcceptProductRef(subscriberID int64, ref string) error {
	ref = strings.TrimSpace(ref)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[subscriberID]
	if !ok {
		return ErrNoSession
	}
	if s.state != StateAwaitingProductRef {
		return ErrWrongState
	}
	if err := ValidateProductURL(ref, m.cfg.StorefrontHost); err != nil {
		return err
	}
	s.productURL = ref
	s.state = StateAwaitingPostalCode
	return nil
}

// AcceptPostalCode completes enrollment by subscribing. An invalid code
// returns a *ValidationError and leaves the state unchanged.
func (m *Manager) AcceptPostalCode(ctx context.Context, subscriberID int64, code string) (Subscription, error) {
	code = strings.TrimSpace(code)

	m.mu.Lock()
	s, ok := m.sessions[subscriberID]
	var productURL string
	switch {
	case !ok:
		m.mu.Unlock()
		return Subscription{}, ErrNoSession
	case s.state != StateAwaitingPostalCode:
		m.mu.Unlock()
		return Subscription{}, ErrWrongState
	}
	productURL = s.productURL
	m.mu.Unlock()

	if err := ValidatePostalCode(code); err != nil {
		return Subscription{}, err
	}
	return m.Subscribe(ctx, subscriberID, productURL, code)
}

// Session reports the conversation state of subscriberID. ok is false when
// the subscriber is neither enrolling nor active.
func (m *Manager) Session(subscriberID int64) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[subscriberID]; ok {
		return s.state, true
	}
	if _, ok := m.subs[subscriberID]; ok {
		return StateActive, true
	}
	return 0, false
}
