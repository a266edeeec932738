package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockwatch/internal/notifier"
	"stockwatch/internal/probe"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/storage"
	"stockwatch/internal/tracker"
	kit "stockwatch/internal/transport"
	logx "stockwatch/pkg/logx"
)

type reply struct {
	chat int64
	text string
	html bool
}

type fakeSender struct {
	mu      sync.Mutex
	replies []reply
}

func (s *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{chat: to.ChatID, text: text, html: opt != nil && opt.ParseMode == "HTML"})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(s.replies)}, nil
}

func (s *fakeSender) all() []reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reply(nil), s.replies...)
}

func (s *fakeSender) last(t *testing.T) string {
	t.Helper()
	all := s.all()
	require.NotEmpty(t, all)
	return all[len(all)-1].text
}

func (s *fakeSender) forChat(chat int64) []string {
	var out []string
	for _, r := range s.all() {
		if r.chat == chat {
			out = append(out, r.text)
		}
	}
	return out
}

type fixedProber struct{ available bool }

func (p fixedProber) Probe(context.Context, string, string) (probe.Verdict, error) {
	return probe.Verdict{Available: p.available, ProductName: "Amul Kool"}, nil
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, int64, string, notifier.Options) error { return nil }

type nopScheduler struct{}

func (nopScheduler) Add(string, string, time.Duration, scheduler.Job) error { return nil }
func (nopScheduler) Remove(string) bool                                     { return true }

func newRouter(t *testing.T, available bool) (*Router, *fakeSender) {
	t.Helper()
	r, out, _ := newRouterWithManager(t, available)
	return r, out
}

func newRouterWithManager(t *testing.T, available bool) (*Router, *fakeSender, *tracker.Manager) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "status.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mgr := tracker.NewManager(tracker.Config{Interval: "2m", StorefrontHost: "shop.example.com"},
		st, fixedProber{available: available}, nopNotifier{}, nopScheduler{}, nil, logx.Nop())
	out := &fakeSender{}
	r := New(Config{Workers: 2, Location: time.UTC}, out, mgr, logx.Nop())
	return r, out, mgr
}

func msg(chat int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{ChatID: chat, FromID: chat, Text: text}}
}

func TestEnrollmentFlow(t *testing.T) {
	t.Parallel()

	r, out := newRouter(t, true)
	ctx := context.Background()
	say := func(text string) string {
		n := len(out.all())
		r.Handle(ctx, msg(42, text))
		if len(out.all()) == n {
			return ""
		}
		return out.last(t)
	}

	require.Contains(t, say("/start"), "Send /track")
	require.Contains(t, say("/track"), "product link")
	require.Contains(t, say("hello"), "Invalid product link")
	require.Contains(t, say("https://elsewhere.test/p"), "Invalid product link")
	require.Contains(t, say("https://shop.example.com/product/x"), "6-digit pincode")
	require.Contains(t, say("12"), "exactly 6 digits")
	require.Contains(t, say("302017"), "Now tracking")
	require.Empty(t, say("anything else"))

	status := say("/status")
	require.Contains(t, status, "Tracking since:")
	require.Contains(t, status, "Last checked:")
	require.Contains(t, status, "In stock")
	require.NotContains(t, status, "Not seen in stock yet")

	require.Contains(t, say("/list"), "302017")
	require.Contains(t, say("/stop"), "Stopped tracking")
	require.Equal(t, "Nothing to stop.", say("/stop"))
	require.Contains(t, say("/list"), "not tracking anything")
	require.Contains(t, say("/status"), "Tracking is stopped")
}

func TestStatusPlaceholderWhenNeverAvailable(t *testing.T) {
	t.Parallel()

	r, out := newRouter(t, false)
	ctx := context.Background()
	for _, text := range []string{"/track", "https://shop.example.com/product/x", "302017", "/status"} {
		r.Handle(ctx, msg(7, text))
	}
	status := out.last(t)
	require.Contains(t, status, "Not seen in stock yet")
	require.Contains(t, status, "Out of stock")
}

func TestStatusWithoutSubscription(t *testing.T) {
	t.Parallel()

	r, out := newRouter(t, true)
	r.Handle(context.Background(), msg(8, "/status"))
	require.Contains(t, out.last(t), "No tracking info yet")
}

func TestCommandParsing(t *testing.T) {
	t.Parallel()

	r, out := newRouter(t, true)
	ctx := context.Background()

	r.Handle(ctx, msg(1, "/help@stockwatch_bot"))
	help := out.last(t)
	for _, c := range []string{"/start", "/track", "/status", "/stop", "/list", "/help"} {
		require.Contains(t, help, c)
	}

	r.Handle(ctx, msg(1, "/nope"))
	require.Equal(t, "Unknown command. Try /help", out.last(t))

	r.Handle(ctx, msg(1, "free text"))
	require.Contains(t, out.last(t), "Send /track")

	r.Handle(ctx, kit.Update{})
	require.Len(t, out.all(), 3)
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()

	r, _ := newRouter(t, true)
	var names []string
	for _, c := range r.MenuCommands() {
		require.NotEmpty(t, c.Description)
		names = append(names, c.Command)
	}
	require.Equal(t, []string{"start", "track", "status", "stop", "list", "help"}, names)
}

func TestRunKeepsPerChatOrder(t *testing.T) {
	t.Parallel()

	r, out := newRouter(t, true)
	updates := make(chan kit.Update, 32)
	for _, chat := range []int64{100, 101, 102} {
		for _, text := range []string{"/track", "https://shop.example.com/product/x", "302017"} {
			updates <- msg(chat, text)
		}
	}
	close(updates)

	require.NoError(t, r.Run(context.Background(), updates))

	for _, chat := range []int64{100, 101, 102} {
		got := out.forChat(chat)
		require.Len(t, got, 4, "chat %d: %v", chat, got)
		require.Contains(t, got[0], "product link")
		require.Contains(t, got[1], "6-digit pincode")
		require.Contains(t, got[2], "Checking availability")
		require.Contains(t, got[3], "Now tracking")
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	h := Chain(func(context.Context, *Request) error { panic("boom") },
		recoverPanics,
		traceEnrollment(&fakeSessions{}),
		withDeadline(time.Second),
	)
	err := h(context.Background(), &Request{Command: "x"})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "boom"))
}

func TestDeadlineMiddleware(t *testing.T) {
	t.Parallel()

	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, withDeadline(10*time.Millisecond))
	require.ErrorIs(t, h(context.Background(), &Request{}), context.DeadlineExceeded)

	unbounded := Chain(func(ctx context.Context, _ *Request) error {
		_, ok := ctx.Deadline()
		require.False(t, ok)
		return nil
	}, withDeadline(0))
	require.NoError(t, unbounded(context.Background(), &Request{}))
}

// fakeSessions is an in-memory enrollment state table.
type fakeSessions struct {
	mu sync.Mutex
	st map[int64]tracker.State
}

func (f *fakeSessions) Session(id int64) (tracker.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.st[id]
	return st, ok
}

func (f *fakeSessions) set(id int64, st tracker.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st[id] = st
}

func TestTraceEnrollmentLogsStateChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		before    tracker.State
		after     tracker.State
		err       error
		wantLevel string
		wantMsg   string
		wantWas   string
		wantState string
	}{
		{
			name:      "track starts enrollment",
			after:     tracker.StateAwaitingProductRef,
			wantLevel: "info",
			wantMsg:   "enrollment moved",
			wantWas:   "none",
			wantState: "awaiting_product_ref",
		},
		{
			name:      "pincode completes enrollment",
			before:    tracker.StateAwaitingPostalCode,
			after:     tracker.StateActive,
			wantLevel: "info",
			wantMsg:   "enrollment moved",
			wantWas:   "awaiting_postal_code",
			wantState: "active",
		},
		{
			name:      "status leaves state alone",
			before:    tracker.StateActive,
			after:     tracker.StateActive,
			wantLevel: "debug",
			wantMsg:   "request handled",
			wantState: "active",
		},
		{
			name:      "handler error",
			before:    tracker.StateAwaitingPostalCode,
			after:     tracker.StateAwaitingPostalCode,
			err:       errors.New("store down"),
			wantLevel: "warn",
			wantMsg:   "request failed",
			wantWas:   "awaiting_postal_code",
			wantState: "awaiting_postal_code",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sessions := &fakeSessions{st: map[int64]tracker.State{}}
			if tt.before != 0 {
				sessions.set(77, tt.before)
			}
			var buf bytes.Buffer
			req := &Request{
				Chat:    kit.ChatTarget{ChatID: 77},
				Command: "text",
				Logger:  logx.NewWriter(&buf, "debug"),
			}
			h := traceEnrollment(sessions)(func(context.Context, *Request) error {
				if tt.after != 0 {
					sessions.set(77, tt.after)
				}
				return tt.err
			})
			require.ErrorIs(t, h(context.Background(), req), tt.err)

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			require.Equal(t, tt.wantLevel, line["level"])
			require.Equal(t, tt.wantMsg, line["message"])
			require.Equal(t, float64(77), line["subscriber"])
			require.Equal(t, "text", line["step"])
			require.Equal(t, tt.wantState, line["state"])
			if tt.wantWas == "" {
				require.NotContains(t, line, "was")
			} else {
				require.Equal(t, tt.wantWas, line["was"])
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	rec := storage.Record{
		ProductURL:      "https://shop.example.com/p?a=1&b=2",
		PostalCode:      "302017",
		ProductName:     "Whey <500g>",
		TrackingStarted: at,
		LastChecked:     at.Add(time.Minute),
		LastAvailable:   &at,
		CurrentStatus:   storage.StatusInStock,
		Active:          true,
	}
	txt := formatStatus(rec, time.UTC)
	require.Contains(t, txt, "Whey &lt;500g&gt;")
	require.Contains(t, txt, "a=1&amp;b=2")
	require.Contains(t, txt, "18 Oct 2026 09:30:00 UTC")
	require.Contains(t, txt, "18 Oct 2026 09:31:00 UTC")
	require.NotContains(t, txt, "stopped")
}

func TestRepliesFollowReloadedStorefrontHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		host     string
		accepted string
		rejected string
	}{
		{
			name:     "unchanged",
			host:     "shop.example.com",
			accepted: "https://shop.example.com/product/x",
			rejected: "https://shop.other.test/product/x",
		},
		{
			name:     "reloaded",
			host:     "shop.other.test",
			accepted: "https://shop.other.test/product/x",
			rejected: "https://shop.example.com/product/x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, out, mgr := newRouterWithManager(t, true)
			mgr.SetStorefrontHost(tt.host)
			ctx := context.Background()

			r.Handle(ctx, msg(9, "/start"))
			require.Contains(t, out.last(t), tt.host)

			r.Handle(ctx, msg(9, "/track"))
			require.Contains(t, out.last(t), tt.host)

			r.Handle(ctx, msg(9, tt.rejected))
			require.Contains(t, out.last(t), "Invalid product link")
			r.Handle(ctx, msg(9, tt.accepted))
			require.Contains(t, out.last(t), "6-digit pincode")
		})
	}
}
