package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hyperbridge/internal/bridge"
	"hyperbridge/internal/listener"
	"hyperbridge/internal/observability/ops"
	"hyperbridge/internal/sink"
	"hyperbridge/internal/storage"
	"hyperbridge/pkg/logx"
)

const defaultRefreshEvery = 30 * time.Second

// Runtime is Config with every duration parsed and defaults applied, split
// into the per-component configs the daemon wires.
type Runtime struct {
	Logging      logx.Config
	Storage      storage.Config
	Engine       bridge.Config
	Labels       map[string]string
	Arrival      []string
	RefreshEvery time.Duration
	SinkPath     string
	Sink         sink.Config
	Listener     listener.Config
	Stdin        bool
	Socket       string
	Ops          ops.Config
}

// Resolve validates cfg. All field errors are reported together.
func Resolve(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) time.Duration {
		d, err := ParseDurationField(path, raw)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	rt := &Runtime{
		Logging: logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		},
		Labels:   cfg.Engine.Labels,
		Arrival:  cfg.Engine.ArrivalKeywords,
		SinkPath: strings.TrimSpace(cfg.Sink.Path),
		Stdin:    cfg.Listener.Stdin,
		Socket:   strings.TrimSpace(cfg.Listener.Socket),
	}
	if rt.Logging.File.Enabled && strings.TrimSpace(rt.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}

	if s := cfg.Storage; s != nil {
		rt.Storage = storage.Config{
			Driver:      strings.ToLower(strings.TrimSpace(s.Driver)),
			Path:        strings.TrimSpace(s.Path),
			BusyTimeout: dur("storage.busy_timeout", s.BusyTimeout),
		}
		switch rt.Storage.Driver {
		case "", "none", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if rt.Storage.Path == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", rt.Storage.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
	}

	debounce, err := ParseSwitchableDuration("engine.debounce_interval", cfg.Engine.DebounceInterval)
	if err != nil {
		errs = append(errs, err)
	}
	if cfg.Engine.MaxIslands < 0 {
		errs = append(errs, errors.New("engine.max_islands: must be >= 0"))
	}
	rt.Engine = bridge.Config{
		MaxIslands:         cfg.Engine.MaxIslands,
		DebounceInterval:   debounce,
		DebounceMaxEntries: cfg.Engine.DebounceMaxEntries,
		SelfPackage:        strings.TrimSpace(cfg.Engine.SelfPackage),
		IgnorePackages:     cfg.Engine.IgnorePackages,
	}

	rt.RefreshEvery, err = ParseDurationOrDefault("settings.refresh_every", cfg.Settings.RefreshEvery, defaultRefreshEvery)
	if err != nil {
		errs = append(errs, err)
	} else if rt.RefreshEvery < time.Second {
		errs = append(errs, errors.New("settings.refresh_every: must be >= 1s"))
	}

	rt.Sink = sink.Config{
		QueueSize:     cfg.Sink.QueueSize,
		RatePerSec:    cfg.Sink.RatePerSec,
		RetryMax:      cfg.Sink.RetryMax,
		RetryBase:     dur("sink.retry_base", cfg.Sink.RetryBase),
		RetryMaxDelay: dur("sink.retry_max_delay", cfg.Sink.RetryMaxDelay),
		SendTimeout:   dur("sink.send_timeout", cfg.Sink.SendTimeout),
	}

	rt.Listener = listener.Config{Shards: cfg.Listener.Shards, QueueSize: cfg.Listener.QueueSize}
	if !rt.Stdin && rt.Socket == "" {
		errs = append(errs, errors.New("listener: enable stdin or set socket"))
	}

	rt.Ops = ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          strings.TrimSpace(cfg.Ops.Addr),
		Token:         strings.TrimSpace(cfg.Ops.Token),
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
		ReadTimeout:   dur("ops.read_timeout", cfg.Ops.ReadTimeout),
		WriteTimeout:  dur("ops.write_timeout", cfg.Ops.WriteTimeout),
		IdleTimeout:   dur("ops.idle_timeout", cfg.Ops.IdleTimeout),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return rt, nil
}
