package app

import (
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/config"
	"stockwatch/internal/notifier"
	"stockwatch/internal/probe"
	"stockwatch/internal/storage"
	"stockwatch/internal/tracker"
	logx "stockwatch/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file", "json":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapProbeConfig(cfg *config.Config) (probe.Config, error) {
	pc := cfg.Probe
	nav, err := config.ParseDurationField("probe.navigation_timeout", pc.NavigationTimeout)
	if err != nil {
		return probe.Config{}, err
	}
	sug, err := config.ParseDurationField("probe.suggestion_timeout", pc.SuggestionTimeout)
	if err != nil {
		return probe.Config{}, err
	}
	content, err := config.ParseDurationField("probe.content_timeout", pc.ContentTimeout)
	if err != nil {
		return probe.Config{}, err
	}
	sel := probe.Selectors{
		LocationWidget: pc.Selectors.LocationWidget,
		PostalInput:    pc.Selectors.PostalInput,
		Suggestion:     pc.Selectors.Suggestion,
		ProductDetail:  pc.Selectors.ProductDetail,
		SoldOut:        pc.Selectors.SoldOut,
		NotifyMe:       pc.Selectors.NotifyMe,
		PurchaseButton: pc.Selectors.PurchaseButton,
		Title:          pc.Selectors.Title,
	}
	return probe.Config{
		NavigationTimeout: nav,
		SuggestionTimeout: sug,
		ContentTimeout:    content,
		Selectors:         sel,
	}, nil
}

func mapTrackerConfig(cfg *config.Config) (tracker.Config, error) {
	cycle, err := config.ParseDurationField("tracker.cycle_timeout", cfg.Tracker.CycleTimeout)
	if err != nil {
		return tracker.Config{}, err
	}
	return tracker.Config{
		Interval:       strings.TrimSpace(cfg.Tracker.Interval),
		StorefrontHost: strings.TrimSpace(cfg.Tracker.StorefrontHost),
		CycleTimeout:   cycle,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func probeDriver(cfg *config.Config) string {
	d := strings.ToLower(strings.TrimSpace(cfg.Probe.Driver))
	if d == "" {
		return "browser"
	}
	return d
}
