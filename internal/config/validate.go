package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the fields the app cannot start without.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", EnvToken)
	}
	if strings.TrimSpace(cfg.Tracker.Interval) == "" {
		return errors.New("tracker.interval is required")
	}
	if strings.TrimSpace(cfg.Tracker.StorefrontHost) == "" {
		return errors.New("tracker.storefront_host is required")
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"tracker.cycle_timeout":    cfg.Tracker.CycleTimeout,
		"probe.navigation_timeout": cfg.Probe.NavigationTimeout,
		"probe.suggestion_timeout": cfg.Probe.SuggestionTimeout,
		"probe.content_timeout":    cfg.Probe.ContentTimeout,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Probe.Driver)) {
	case "", "browser", "static":
	default:
		return fmt.Errorf("probe.driver: unknown driver %q", cfg.Probe.Driver)
	}
	if cfg.Probe.MaxParallel < 0 {
		return errors.New("probe.max_parallel must be >= 0")
	}
	if cfg.Notifier.Workers < 0 || cfg.Notifier.QueueSize < 0 || cfg.Notifier.RatePerSec < 0 {
		return errors.New("notifier.workers, queue_size and rate_per_sec must be >= 0")
	}
	return nil
}
