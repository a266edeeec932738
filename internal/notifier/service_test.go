package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "stockwatch/internal/transport"
	logx "stockwatch/pkg/logx"
)

type sent struct {
	to   int64
	text string
	mode string
}

type fakeSender struct {
	mu   sync.Mutex
	got  []sent
	fail error
	hits int
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	if f.fail != nil {
		return kit.MessageRef{}, f.fail
	}
	f.got = append(f.got, sent{to: to.ChatID, text: text, mode: opt.ParseMode})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.got)}, nil
}

func (f *fakeSender) snapshot() ([]sent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.got...), f.hits
}

func TestSendDeliversAndDrainsOnStop(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, fs, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.Send(context.Background(), 7, "plain", Options{}))
	require.NoError(t, s.Send(context.Background(), 7, "<b>rich</b>", Options{Rich: true}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	got, _ := fs.snapshot()
	require.Equal(t, []sent{
		{to: 7, text: "plain"},
		{to: 7, text: "<b>rich</b>", mode: "HTML"},
	}, got)

	require.ErrorIs(t, s.Send(context.Background(), 7, "late", Options{}), ErrStopped)
}

func TestFailedDeliveryIsNotRetried(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{fail: errors.New("forbidden: bot was blocked by the user")}
	s := New(Config{Workers: 1, QueueSize: 4, RatePerSec: 100}, fs, logx.Nop(), nil)
	s.Start(context.Background())
	require.NoError(t, s.Send(context.Background(), 9, "hi", Options{}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	_, hits := fs.snapshot()
	require.Equal(t, 1, hits)
}

func TestDeliverWrapsTransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := New(Config{}, &fakeSender{fail: boom}, logx.Nop(), nil)
	err := s.deliver(context.Background(), job{to: 3, text: "x"})

	var ne *Error
	require.ErrorAs(t, err, &ne)
	require.Equal(t, int64(3), ne.RecipientID)
	require.ErrorIs(t, err, boom)
}

func TestSendBeforeStartIsStopped(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	require.ErrorIs(t, s.Send(context.Background(), 1, "x", Options{}), ErrStopped)
}
