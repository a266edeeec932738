package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables understood on top of the config file.
//
// BOT_TOKEN, CHAT_ID and PORT keep the names used by existing deployments.
const (
	EnvToken          = "BOT_TOKEN"
	EnvChatID         = "CHAT_ID"
	EnvPort           = "PORT"
	EnvInterval       = "STOCKWATCH_INTERVAL"
	EnvStorefrontHost = "STOCKWATCH_STOREFRONT_HOST"
	EnvProbeDriver    = "STOCKWATCH_PROBE_DRIVER"
	EnvStorageDriver  = "STOCKWATCH_STORAGE_DRIVER"
	EnvStoragePath    = "STOCKWATCH_STORAGE_PATH"
	EnvLogLevel       = "STOCKWATCH_LOG_LEVEL"
)

// ApplyEnv overlays environment values onto cfg. lookup is os.LookupEnv in
// production and a map in tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", EnvChatID, v, err)
		}
		cfg.Telegram.DefaultChatID = id
	}
	if v, ok := get(EnvPort); ok {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		cfg.Health.Addr = ":" + v
	}
	if v, ok := get(EnvInterval); ok {
		cfg.Tracker.Interval = v
	}
	if v, ok := get(EnvStorefrontHost); ok {
		cfg.Tracker.StorefrontHost = v
	}
	if v, ok := get(EnvProbeDriver); ok {
		cfg.Probe.Driver = v
	}
	if v, ok := get(EnvStorageDriver); ok {
		cfg.Storage.Driver = v
	}
	if v, ok := get(EnvStoragePath); ok {
		cfg.Storage.Path = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	return nil
}
