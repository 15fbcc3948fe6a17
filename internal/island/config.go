package island

import "time"

// Built-in appearance defaults, applied after app and global config.
const (
	DefaultFloat     = true
	DefaultShowShade = true
	DefaultTimeout   = 5000 * time.Millisecond
)

// Config is an appearance configuration where every field is optional.
// A nil field means "inherit".
type Config struct {
	Float     *bool          `json:"float,omitempty"`
	ShowShade *bool          `json:"shade,omitempty"`
	Timeout   *time.Duration `json:"timeout,omitempty"`
}

// Resolved is a fully populated appearance configuration.
type Resolved struct {
	Float     bool
	ShowShade bool
	Timeout   time.Duration
}

// IsZero reports whether every field is unset.
func (c Config) IsZero() bool { return c.Float == nil && c.ShowShade == nil && c.Timeout == nil }

// Merge returns c with unset fields taken from fallback.
func (c Config) Merge(fallback Config) Config {
	out := c
	if out.Float == nil {
		out.Float = fallback.Float
	}
	if out.ShowShade == nil {
		out.ShowShade = fallback.ShowShade
	}
	if out.Timeout == nil {
		out.Timeout = fallback.Timeout
	}
	return out
}

// Resolve merges app over global, then fills built-in defaults.
func Resolve(app, global Config) Resolved {
	m := app.Merge(global)
	r := Resolved{Float: DefaultFloat, ShowShade: DefaultShowShade, Timeout: DefaultTimeout}
	if m.Float != nil {
		r.Float = *m.Float
	}
	if m.ShowShade != nil {
		r.ShowShade = *m.ShowShade
	}
	if m.Timeout != nil {
		r.Timeout = *m.Timeout
	}
	return r
}

// EffectiveFloat is Float, forced off when the island never times out on screen.
func (r Resolved) EffectiveFloat() bool {
	if r.Timeout == 0 {
		return false
	}
	return r.Float
}

func Bool(v bool) *bool { return &v }

func Duration(v time.Duration) *time.Duration { return &v }
