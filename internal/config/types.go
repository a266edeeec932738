package config

// Config is the full runtime configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
// The config file is optional; environment variables (see env.go) are applied
// on top of the file, so a token in BOT_TOKEN alone is enough to run.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Tracker  TrackerConfig  `json:"tracker"`
	Probe    ProbeConfig    `json:"probe"`
	Storage  StorageConfig  `json:"storage"`
	Health   HealthConfig   `json:"health"`
	Notifier NotifierConfig `json:"notifier"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// DefaultChatID receives operator notices (startup, restored subscriptions).
	// 0 disables them.
	DefaultChatID int64 `json:"default_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TrackerConfig controls subscription polling.
type TrackerConfig struct {
	// Interval accepts a duration ("2m"), HH:MM ("00:02") or a cron spec.
	Interval       string `json:"interval"`
	StorefrontHost string `json:"storefront_host"`
	RestoreOnStart bool   `json:"restore_on_start"`
	// CycleTimeout bounds one whole probe cycle (probe + store + notify).
	CycleTimeout string `json:"cycle_timeout,omitempty"`
}

// ProbeConfig controls the availability prober and its page fetcher.
//
// Driver values:
//   - "browser": headless Chrome via chromedp (default)
//   - "static": plain HTTP fetch, no JavaScript; the location widget cannot be driven
type ProbeConfig struct {
	Driver            string          `json:"driver"`
	UserAgent         string          `json:"user_agent,omitempty"`
	MaxParallel       int             `json:"max_parallel,omitempty"`
	ExecPath          string          `json:"exec_path,omitempty"` // Chrome binary; empty means PATH lookup
	NavigationTimeout string          `json:"navigation_timeout,omitempty"`
	SuggestionTimeout string          `json:"suggestion_timeout,omitempty"`
	ContentTimeout    string          `json:"content_timeout,omitempty"`
	Selectors         SelectorsConfig `json:"selectors,omitempty"`
}

// SelectorsConfig overrides the CSS selectors used to read the product page.
// Empty fields keep the built-in defaults.
type SelectorsConfig struct {
	LocationWidget string `json:"location_widget,omitempty"`
	PostalInput    string `json:"postal_input,omitempty"`
	Suggestion     string `json:"suggestion,omitempty"`
	ProductDetail  string `json:"product_detail,omitempty"`
	SoldOut        string `json:"sold_out,omitempty"`
	NotifyMe       string `json:"notify_me,omitempty"`
	PurchaseButton string `json:"purchase_button,omitempty"`
	Title          string `json:"title,omitempty"`
}

// StorageConfig controls the status store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/status.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HealthConfig controls the liveness HTTP listener.
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Metrics bool   `json:"metrics"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Workers    int `json:"workers"`
	QueueSize  int `json:"queue_size"`
	RatePerSec int `json:"rate_per_sec"`
}

// Defaults returns the configuration used when neither the file nor the
// environment set a field.
func Defaults() Config {
	return Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Tracker: TrackerConfig{
			Interval:       "2m",
			StorefrontHost: "shop.amul.com",
			RestoreOnStart: true,
			CycleTimeout:   "90s",
		},
		Probe: ProbeConfig{
			Driver:            "browser",
			MaxParallel:       2,
			NavigationTimeout: "30s",
			SuggestionTimeout: "10s",
			ContentTimeout:    "15s",
		},
		Storage:  StorageConfig{Driver: "file", Path: "./data/status.json"},
		Health:   HealthConfig{Enabled: true, Addr: ":3000", Metrics: true},
		Notifier: NotifierConfig{Workers: 2, QueueSize: 256, RatePerSec: 20},
	}
}
