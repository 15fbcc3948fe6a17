package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Engine   EngineConfig   `json:"engine"`
	Settings SettingsConfig `json:"settings"`
	Sink     SinkConfig     `json:"sink"`
	Listener ListenerConfig `json:"listener"`
	Ops      OpsConfig      `json:"ops,omitempty"`
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

// StorageConfig controls where per-app settings live. Omitting the section
// leaves the daemon on built-in defaults.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hyperbridge.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// EngineConfig controls triage and the island registry.
//
// Defaults (when fields are omitted/zero):
//   - max_islands: 9
//   - debounce_interval: "200ms" ("off" disables debouncing)
//   - debounce_max_entries: 4096
type EngineConfig struct {
	MaxIslands         int      `json:"max_islands,omitempty"`
	DebounceInterval   string   `json:"debounce_interval,omitempty"`
	DebounceMaxEntries int      `json:"debounce_max_entries,omitempty"`
	SelfPackage        string   `json:"self_package,omitempty"`
	IgnorePackages     []string `json:"ignore_packages,omitempty"`

	// Labels maps package ids to display names.
	Labels map[string]string `json:"labels,omitempty"`
	// ArrivalKeywords extends the words that mark a navigation ETA.
	ArrivalKeywords []string `json:"arrival_keywords,omitempty"`
}

type SettingsConfig struct {
	// RefreshEvery is how often the settings snapshot is reloaded from storage.
	// Default "30s".
	RefreshEvery string `json:"refresh_every,omitempty"`
}

// SinkConfig controls delivery of island payloads.
//
// Path is a JSONL file; "-" or "" writes to stdout.
type SinkConfig struct {
	Path          string `json:"path,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// ListenerConfig selects the notification feeds. Both may be active.
type ListenerConfig struct {
	Stdin     bool   `json:"stdin"`
	Socket    string `json:"socket,omitempty"`
	Shards    int    `json:"shards,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
}

// OpsConfig controls the health/metrics/pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// WriteTimeout defaults to 0 so /debug/pprof/profile can run for 30s+.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
