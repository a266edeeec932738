package scheduler

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

// spreadSchedule wraps an interval schedule and delays only its first run, so
// subscriptions restored together at startup don't all probe at once.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalWithSpread returns an @every schedule whose first run is pushed back
// by a jitter in [0, maxSpread). The jitter depends only on tag and every, so a
// schedule keeps its offset across restarts and re-adds.
func intervalWithSpread(every, maxSpread time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	if maxSpread > every {
		maxSpread = every
	}
	if maxSpread <= 0 {
		return base, 0
	}

	rng := rand.New(rand.NewSource(int64(fnv64a(tag) ^ uint64(every))))
	jitter := time.Duration(rng.Int63n(int64(maxSpread)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
