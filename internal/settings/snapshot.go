// Package settings types the bridge's persisted preferences and serves them
// as an immutable, periodically refreshed snapshot.
package settings

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"slices"
	"strconv"
	"strings"
	"time"

	"hyperbridge/internal/island"
)

var ErrInvalidMode = errors.New("settings: invalid limit mode")

// Store keys.
const (
	KeyAllowedPackages = "allowed_packages"
	KeyLimitMode       = "limit_mode"
	KeyPriorityOrder   = "priority_app_order"
	KeyGlobalFloat     = "global_float"
	KeyGlobalShade     = "global_shade"
	KeyGlobalTimeout   = "global_timeout"

	appPrefix     = "config_"
	suffixFloat   = "_float"
	suffixShade   = "_shade"
	suffixTimeout = "_timeout"
)

// AppTypesKey is the key holding pkg's enabled island types.
func AppTypesKey(pkg string) string { return appPrefix + pkg }

func AppFloatKey(pkg string) string   { return appPrefix + pkg + suffixFloat }
func AppShadeKey(pkg string) string   { return appPrefix + pkg + suffixShade }
func AppTimeoutKey(pkg string) string { return appPrefix + pkg + suffixTimeout }

// Snapshot is an immutable view of every setting. The zero value is not
// useful; use Defaults or Parse.
type Snapshot struct {
	allowed  map[string]struct{}
	mode     island.LimitMode
	priority []string
	types    map[string]map[island.Type]bool
	apps     map[string]island.Config
	global   island.Config

	revision uint64
	loadedAt time.Time
}

// Defaults is the snapshot used before the first successful load.
func Defaults() *Snapshot {
	return &Snapshot{
		allowed: map[string]struct{}{},
		mode:    island.DefaultLimitMode,
		types:   map[string]map[island.Type]bool{},
		apps:    map[string]island.Config{},
	}
}

// Parse builds a snapshot from raw store pairs. Malformed values fall back to
// their defaults and are reported in the returned warnings.
func Parse(kv map[string]string, now time.Time) (*Snapshot, []string) {
	s := Defaults()
	s.loadedAt = now
	s.revision = revision(kv)
	var warns []string
	warn := func(key, msg string) { warns = append(warns, key+": "+msg) }

	for key, raw := range kv {
		switch key {
		case KeyAllowedPackages:
			var pkgs []string
			if err := json.Unmarshal([]byte(raw), &pkgs); err != nil {
				warn(key, "not a JSON string array")
				continue
			}
			for _, p := range pkgs {
				if p = strings.TrimSpace(p); p != "" {
					s.allowed[p] = struct{}{}
				}
			}
		case KeyLimitMode:
			m, ok := island.ParseLimitMode(raw)
			if !ok {
				warn(key, "unknown mode "+strconv.Quote(raw))
			}
			s.mode = m
		case KeyPriorityOrder:
			s.priority = splitList(raw)
		case KeyGlobalFloat:
			s.global.Float = parseBool(raw, key, warn)
		case KeyGlobalShade:
			s.global.ShowShade = parseBool(raw, key, warn)
		case KeyGlobalTimeout:
			s.global.Timeout = parseMillis(raw, key, warn)
		default:
			if strings.HasPrefix(key, appPrefix) {
				s.parseAppKey(key, raw, warn)
			}
		}
	}
	return s, warns
}

func (s *Snapshot) parseAppKey(key, raw string, warn func(string, string)) {
	rest := strings.TrimPrefix(key, appPrefix)
	// A JSON array is always a type set, whatever the package name ends with.
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			warn(key, "not a JSON string array")
			return
		}
		set := make(map[island.Type]bool, len(names))
		for _, n := range names {
			if t, err := island.ParseType(n); err == nil {
				set[t] = true
			}
		}
		s.types[rest] = set
		return
	}

	switch {
	case strings.HasSuffix(rest, suffixFloat):
		pkg := strings.TrimSuffix(rest, suffixFloat)
		c := s.apps[pkg]
		c.Float = parseBool(raw, key, warn)
		s.apps[pkg] = c
	case strings.HasSuffix(rest, suffixShade):
		pkg := strings.TrimSuffix(rest, suffixShade)
		c := s.apps[pkg]
		c.ShowShade = parseBool(raw, key, warn)
		s.apps[pkg] = c
	case strings.HasSuffix(rest, suffixTimeout):
		pkg := strings.TrimSuffix(rest, suffixTimeout)
		c := s.apps[pkg]
		c.Timeout = parseMillis(raw, key, warn)
		s.apps[pkg] = c
	default:
		warn(key, "unrecognised app setting")
	}
}

// Allowed reports whether pkg may be bridged.
func (s *Snapshot) Allowed(pkg string) bool {
	_, ok := s.allowed[pkg]
	return ok
}

// AllowedPackages returns the allowed set, sorted.
func (s *Snapshot) AllowedPackages() []string {
	out := make([]string, 0, len(s.allowed))
	for p := range s.allowed {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (s *Snapshot) LimitMode() island.LimitMode { return s.mode }

// PriorityOrder returns the ranked packages, best first. The slice is shared;
// callers must not modify it.
func (s *Snapshot) PriorityOrder() []string { return s.priority }

// TypeEnabled reports whether pkg has typ enabled. Apps without a stored set
// have every type enabled.
func (s *Snapshot) TypeEnabled(pkg string, typ island.Type) bool {
	set, ok := s.types[pkg]
	if !ok {
		return true
	}
	return set[typ]
}

// EnabledTypes returns pkg's enabled types in enum order.
func (s *Snapshot) EnabledTypes(pkg string) []island.Type {
	var out []island.Type
	for _, t := range island.AllTypes() {
		if s.TypeEnabled(pkg, t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Snapshot) AppConfig(pkg string) island.Config { return s.apps[pkg] }

func (s *Snapshot) GlobalConfig() island.Config { return s.global }

// Resolve returns the effective appearance for pkg.
func (s *Snapshot) Resolve(pkg string) island.Resolved {
	return island.Resolve(s.apps[pkg], s.global)
}

// Revision changes whenever the underlying pairs change.
func (s *Snapshot) Revision() uint64 { return s.revision }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// View is a JSON-friendly rendering of a snapshot.
type View struct {
	Allowed  []string             `json:"allowed_packages"`
	Mode     string               `json:"limit_mode"`
	Priority []string             `json:"priority_app_order,omitempty"`
	Types    map[string][]string  `json:"app_types,omitempty"`
	Apps     map[string]Effective `json:"app_appearance,omitempty"`
	Global   Effective            `json:"global_appearance"`
}

// Effective is a resolved appearance.
type Effective struct {
	Float     bool  `json:"float"`
	ShowShade bool  `json:"show_shade"`
	TimeoutMS int64 `json:"timeout_ms"`
}

func effective(r island.Resolved) Effective {
	return Effective{Float: r.Float, ShowShade: r.ShowShade, TimeoutMS: r.Timeout.Milliseconds()}
}

func (s *Snapshot) View() View {
	v := View{
		Allowed:  s.AllowedPackages(),
		Mode:     s.mode.String(),
		Priority: s.priority,
		Global:   effective(island.Resolve(island.Config{}, s.global)),
	}
	if len(s.types) > 0 {
		v.Types = make(map[string][]string, len(s.types))
		for pkg := range s.types {
			names := []string{}
			for _, t := range s.EnabledTypes(pkg) {
				names = append(names, t.String())
			}
			v.Types[pkg] = names
		}
	}
	if len(s.apps) > 0 {
		v.Apps = make(map[string]Effective, len(s.apps))
		for pkg := range s.apps {
			v.Apps[pkg] = effective(s.Resolve(pkg))
		}
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(raw, key string, warn func(string, string)) *bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		warn(key, "not a bool")
		return nil
	}
	return island.Bool(v)
}

func parseMillis(raw, key string, warn func(string, string)) *time.Duration {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms < 0 {
		warn(key, "not a non-negative millisecond count")
		return nil
	}
	return island.Duration(time.Duration(ms) * time.Millisecond)
}

func revision(kv map[string]string) uint64 {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(kv[k]))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
