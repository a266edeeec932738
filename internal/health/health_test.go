package health

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockwatch/internal/metrics"
	"stockwatch/internal/scheduler"
	logx "stockwatch/pkg/logx"
)

type fixedCounter int

func (c fixedCounter) Active() int { return int(c) }

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b), resp.Header
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.SetActiveSubscriptions(3)
	s := New(Config{Metrics: m.Handler()}, fixedCounter(3), logx.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	code, body, hdr := get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Bot is running ✅", body)
	require.Contains(t, hdr.Get("Content-Type"), "text/plain")

	code, body, _ = get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, code)
	var hr healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &hr))
	require.Equal(t, "ok", hr.Status)
	require.Equal(t, 3, hr.ActiveSubscriptions)

	code, body, _ = get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "stockwatch_active_subscriptions 3")

	code, _, _ = get(t, ts.URL+"/nope")
	require.Equal(t, http.StatusNotFound, code)
}

func TestMetricsRouteOptional(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(New(Config{}, nil, logx.Nop()).Handler())
	t.Cleanup(ts.Close)

	code, _, _ := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusNotFound, code)
	code, body, _ := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"active_subscriptions":0`)
	require.NotContains(t, body, `"schedules"`)
}

func TestHealthzListsSchedules(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	prev := next.Add(-2 * time.Minute)
	tests := []struct {
		name  string
		infos []scheduler.ScheduleInfo
		want  []scheduleState
	}{
		{
			name: "empty",
		},
		{
			name: "started and pending",
			infos: []scheduler.ScheduleInfo{
				{Name: "sub:1", Spec: "@every 2m0s", Next: next, Prev: prev, Runs: 4, Skipped: 1},
				{Name: "sub:2", Spec: "@every 2m0s", Running: true},
			},
			want: []scheduleState{
				{Name: "sub:1", Spec: "@every 2m0s", Next: &next, Prev: &prev, Runs: 4, Skipped: 1},
				{Name: "sub:2", Spec: "@every 2m0s", Running: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			infos := tt.infos
			s := New(Config{Schedules: func() []scheduler.ScheduleInfo { return infos }}, fixedCounter(len(infos)), logx.Nop())
			ts := httptest.NewServer(s.Handler())
			t.Cleanup(ts.Close)

			code, body, _ := get(t, ts.URL+"/healthz")
			require.Equal(t, http.StatusOK, code)
			var hr healthResponse
			require.NoError(t, json.Unmarshal([]byte(body), &hr))
			require.Equal(t, len(tt.infos), hr.ActiveSubscriptions)
			require.Len(t, hr.Schedules, len(tt.want))
			for i, want := range tt.want {
				got := hr.Schedules[i]
				require.Equal(t, want.Name, got.Name)
				require.Equal(t, want.Spec, got.Spec)
				require.Equal(t, want.Running, got.Running)
				require.Equal(t, want.Runs, got.Runs)
				require.Equal(t, want.Skipped, got.Skipped)
				if want.Next == nil {
					require.Nil(t, got.Next)
				} else {
					require.NotNil(t, got.Next)
					require.True(t, want.Next.Equal(*got.Next))
				}
				if want.Prev == nil {
					require.Nil(t, got.Prev)
				} else {
					require.NotNil(t, got.Prev)
					require.True(t, want.Prev.Equal(*got.Prev))
				}
			}
		})
	}
}

func TestHealthzWithLiveScheduler(t *testing.T) {
	t.Parallel()

	sched := scheduler.New(logx.Nop(), scheduler.WithStartupSpread(0))
	sched.Start(context.Background())
	t.Cleanup(func() { sched.Stop(context.Background()) })
	require.NoError(t, sched.Add("sub:9", "2m", 0, func(context.Context) error { return nil }))

	ts := httptest.NewServer(New(Config{Schedules: sched.Schedules}, fixedCounter(1), logx.Nop()).Handler())
	t.Cleanup(ts.Close)

	_, body, _ := get(t, ts.URL+"/healthz")
	var hr healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &hr))
	require.Len(t, hr.Schedules, 1)
	require.Equal(t, "sub:9", hr.Schedules[0].Name)
	require.Equal(t, "@every 2m0s", hr.Schedules[0].Spec)
	require.NotNil(t, hr.Schedules[0].Next)
	require.Nil(t, hr.Schedules[0].Prev)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(Config{Addr: ln.Addr().String()}, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
