package config

import (
	"reflect"
	"sort"
	"strings"

	"hyperbridge/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	var oStore, nStore StorageConfig
	if oldCfg.Storage != nil {
		oStore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nStore = *newCfg.Storage
	}
	if oStore != nStore {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nStore.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nStore.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.max_islands", newCfg.Engine.MaxIslands),
			logx.String("engine.debounce_interval", strings.TrimSpace(newCfg.Engine.DebounceInterval)),
			logx.Int("engine.ignore_count", len(newCfg.Engine.IgnorePackages)),
			logx.Int("engine.label_count", len(newCfg.Engine.Labels)),
		)
	}

	if oldCfg.Settings != newCfg.Settings {
		changed = append(changed, "settings")
		attrs = append(attrs, logx.String("settings.refresh_every", strings.TrimSpace(newCfg.Settings.RefreshEvery)))
	}

	if oldCfg.Sink != newCfg.Sink {
		changed = append(changed, "sink")
		attrs = append(attrs,
			logx.Int("sink.queue_size", newCfg.Sink.QueueSize),
			logx.Int("sink.rate_per_sec", newCfg.Sink.RatePerSec),
			logx.Int("sink.retry_max", newCfg.Sink.RetryMax),
		)
	}

	if oldCfg.Listener != newCfg.Listener {
		changed = append(changed, "listener")
		attrs = append(attrs,
			logx.Bool("listener.stdin", newCfg.Listener.Stdin),
			logx.Bool("listener.socket_set", strings.TrimSpace(newCfg.Listener.Socket) != ""),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart (storage, sink path and listener feeds).
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if strings.TrimSpace(oldCfg.Sink.Path) != strings.TrimSpace(newCfg.Sink.Path) {
		out = append(out, "sink.path")
	}
	if oldCfg.Listener != newCfg.Listener {
		out = append(out, "listener")
	}
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		out = append(out, "engine")
	}
	return out
}
