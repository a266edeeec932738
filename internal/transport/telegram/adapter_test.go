package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	logx "stockwatch/pkg/logx"
)

func TestSplitTextShortIsUntouched(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"hello"}, splitText("hello", 10, ""))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	require.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitTextDoesNotCutHTMLTag(t *testing.T) {
	t.Parallel()

	s := "abcdef<b>bold</b>"
	got := splitText(s, 8, "HTML")
	require.Equal(t, "abcdef", got[0])
	require.Equal(t, s, strings.Join(got, ""))
}

func TestToUpdateFallsBackToSenderChat(t *testing.T) {
	t.Parallel()

	up := toUpdate(&tele.Message{ID: 7, Text: "/status", Sender: &tele.User{ID: 42, Username: "neo"}})
	require.NotNil(t, up.Message)
	require.Equal(t, int64(42), up.Message.ChatID)
	require.Equal(t, "neo", up.Message.FromUsername)
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, logx.Nop())
	require.Error(t, err)
}

func TestNewOffline(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, a.bot)
	// Stop on a never-started adapter is a no-op.
	require.NoError(t, a.Stop(context.Background()))
}
