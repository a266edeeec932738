package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "stockwatch/pkg/logx"
)

func openDriver(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func drivers(t *testing.T) map[string]func() (Store, string) {
	return map[string]func() (Store, string){
		"file": func() (Store, string) {
			p := filepath.Join(t.TempDir(), "status.json")
			return openDriver(t, "file", p), p
		},
		"sqlite": func() (Store, string) {
			p := filepath.Join(t.TempDir(), "status.db")
			return openDriver(t, "sqlite", p), p
		},
	}
}

func TestKey(t *testing.T) {
	t.Parallel()
	require.Equal(t, "42_https://shop.example.com/product/x_302017", Key(42, "https://shop.example.com/product/x", "302017"))
}

func TestTouch(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var rec Record

	Touch(&rec, StatusOutOfStock, "Milk", t0)
	require.Equal(t, t0, rec.TrackingStarted)
	require.Nil(t, rec.LastAvailable)
	require.Equal(t, StatusOutOfStock, rec.CurrentStatus)

	t1 := t0.Add(time.Minute)
	Touch(&rec, StatusInStock, "", t1)
	require.Equal(t, t0, rec.TrackingStarted, "tracking start is immutable")
	require.Equal(t, "Milk", rec.ProductName, "empty name keeps the old one")
	require.NotNil(t, rec.LastAvailable)
	require.Equal(t, t1, *rec.LastAvailable)

	// An older InStock observation never moves LastAvailable back.
	Touch(&rec, StatusInStock, "", t0)
	require.Equal(t, t1, *rec.LastAvailable)

	Touch(&rec, StatusOutOfStock, "", t1.Add(time.Minute))
	require.Equal(t, t1, *rec.LastAvailable, "only InStock updates it")
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	require.Equal(t, StatusInStock, StatusOf(true))
	require.Equal(t, StatusOutOfStock, StatusOf(false))
}

func TestUpsertGetRoundTrip(t *testing.T) {
	t.Parallel()

	for name, open := range drivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st, _ := open()
			ctx := context.Background()
			key := Key(1, "https://shop.example.com/p", "110001")
			now := time.Now()

			written, err := st.Upsert(ctx, key, func(rec *Record, exists bool) error {
				require.False(t, exists)
				rec.ProductURL = "https://shop.example.com/p"
				rec.PostalCode = "110001"
				Touch(rec, StatusInStock, "Paneer", now)
				return nil
			})
			require.NoError(t, err)

			got, ok, err := st.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, written.ProductURL, got.ProductURL)
			require.Equal(t, written.PostalCode, got.PostalCode)
			require.Equal(t, written.ProductName, got.ProductName)
			require.Equal(t, written.CurrentStatus, got.CurrentStatus)
			require.True(t, written.TrackingStarted.Equal(got.TrackingStarted))
			require.True(t, written.LastChecked.Equal(got.LastChecked))
			require.NotNil(t, got.LastAvailable)
			require.True(t, written.LastAvailable.Equal(*got.LastAvailable))

			_, ok, err = st.Get(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestUpsertSameKeySerializes(t *testing.T) {
	t.Parallel()

	for name, open := range drivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st, _ := open()
			ctx := context.Background()
			const n = 20

			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := st.Upsert(ctx, "k", func(rec *Record, _ bool) error {
						cur := rec.ProductName
						time.Sleep(time.Millisecond)
						rec.ProductName = cur + "x"
						return nil
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			got, ok, err := st.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, got.ProductName, n)
		})
	}
}

func TestMutatorErrorAbortsWrite(t *testing.T) {
	t.Parallel()

	for name, open := range drivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st, _ := open()
			ctx := context.Background()
			stop := errors.New("stale")
			_, err := st.Upsert(ctx, "k", func(rec *Record, _ bool) error { return stop })
			require.ErrorIs(t, err, stop)

			_, ok, err := st.Get(ctx, "k")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()

	for name, open := range drivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st, _ := open()
			ctx := context.Background()
			for _, k := range []string{"a", "b"} {
				_, err := st.Upsert(ctx, k, func(rec *Record, _ bool) error {
					Touch(rec, StatusUnknown, "", time.Now())
					return nil
				})
				require.NoError(t, err)
			}
			all, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)

			require.NoError(t, st.Delete(ctx, "a"))
			require.NoError(t, st.Delete(ctx, "a"))
			all, err = st.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			require.Contains(t, all, "b")
		})
	}
}

func TestFileSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "status.json")
	st := openDriver(t, "file", path)
	_, err := st.Upsert(context.Background(), "k", func(rec *Record, _ bool) error {
		rec.ProductURL = "u"
		Touch(rec, StatusOutOfStock, "Ghee", time.Now())
		return nil
	})
	require.NoError(t, err)

	st2 := openDriver(t, "file", path)
	got, ok, err := st2.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Ghee", got.ProductName)

	// No temp files are left next to the document.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestFileDocumentLayout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "status.json")
	st := openDriver(t, "file", path)
	_, err := st.Upsert(context.Background(), "1_u_110001", func(rec *Record, _ bool) error {
		rec.ProductURL = "u"
		rec.PostalCode = "110001"
		Touch(rec, StatusOutOfStock, "", time.Now())
		return nil
	})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	rec := raw["1_u_110001"]
	for _, k := range []string{"productUrl", "pincode", "productName", "trackingStarted", "lastAvailable", "currentStatus", "lastChecked", "active"} {
		require.Contains(t, rec, k)
	}
	require.Nil(t, rec["lastAvailable"])
	require.Equal(t, "OutOfStock", rec["currentStatus"])
}

func TestFileCorruptOrMissingStartsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))

	for _, p := range []string{corrupt, filepath.Join(dir, "sub", "missing.json")} {
		st := openDriver(t, "file", p)
		all, err := st.List(context.Background())
		require.NoError(t, err)
		require.Empty(t, all)

		_, err = st.Upsert(context.Background(), "k", func(rec *Record, _ bool) error { return nil })
		require.NoError(t, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.Error(t, err)
}
