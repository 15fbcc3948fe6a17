// Package bridge is the notification triage and island lifecycle engine. It
// is the only component with externally visible side effects: every posted
// notification either ends in one registry admission or a counted drop, and
// every removal cancels the matching island.
package bridge

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hyperbridge/internal/eventbus"
	"hyperbridge/internal/island"
	"hyperbridge/internal/settings"
	"hyperbridge/internal/translate"
	"hyperbridge/internal/triage"
	"hyperbridge/pkg/logx"
)

// SettingsSource serves the most recent settings without blocking.
type SettingsSource interface {
	Current() *settings.Snapshot
	Refresh(ctx context.Context) error
}

// Config holds the engine's static tunables.
type Config struct {
	MaxIslands int
	// DebounceInterval zero means the default; negative disables debouncing.
	DebounceInterval   time.Duration
	DebounceMaxEntries int
	// SelfPackage is the bridge's own package; its notifications are ignored.
	SelfPackage    string
	IgnorePackages []string
}

// DropReason says why a posted event never reached the registry.
type DropReason string

const (
	DropNoKey           DropReason = "no_key"
	DropIgnored         DropReason = "ignored"
	DropJunk            DropReason = "junk"
	DropNotAllowed      DropReason = "not_allowed"
	DropTypeDisabled    DropReason = "type_disabled"
	DropDebounced       DropReason = "debounced"
	DropTranslateFailed DropReason = "translate_failed"
	DropPanic           DropReason = "panic"
)

// Decision describes what OnPosted did with one event.
type Decision struct {
	// Dropped is empty when the event reached the registry.
	Dropped DropReason
	// Detail names the junk rule or carries the error text.
	Detail  string
	Type    island.Type
	Outcome island.Outcome
	ID      int32
	// Evicted is the key of the island removed to make room, if any.
	Evicted string
}

// IslandEvent is the payload of every "island.*" bus event.
type IslandEvent struct {
	Key     string `json:"key"`
	ID      int32  `json:"id"`
	Package string `json:"package"`
	Type    string `json:"type,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

const keyStripes = 64

// builtinIgnored are system packages that never produce islands.
var builtinIgnored = []string{"android", "com.android.systemui"}

const ignoredMarker = "miui.notification"

type Engine struct {
	cfg        Config
	settings   SettingsSource
	registry   *island.Registry
	classifier *triage.Classifier
	debouncer  *triage.Debouncer
	translator *translate.Set
	ignored    map[string]struct{}

	log     logx.Logger
	dropLog logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
	now     func() time.Time

	stripes   [keyStripes]sync.Mutex
	connected atomic.Bool
}

type Option func(*Engine)

func WithLogger(l logx.Logger) Option { return func(e *Engine) { e.log = l } }

func WithBus(b eventbus.Bus) Option { return func(e *Engine) { e.bus = b } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLabeler sets the app label source used by the junk filter.
func WithLabeler(l triage.Labeler) Option {
	return func(e *Engine) { e.classifier = triage.NewClassifier(l) }
}

func WithTranslator(s *translate.Set) Option {
	return func(e *Engine) {
		if s != nil {
			e.translator = s
		}
	}
}

func New(cfg Config, src SettingsSource, sink island.Sink, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		settings:   src,
		classifier: triage.NewClassifier(nil),
		translator: translate.NewSet(),
		log:        logx.Nop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = triage.DefaultDebounceInterval
	}
	e.log = e.log.With(logx.String("comp", "engine"))
	e.dropLog = e.log.Sampled(5)
	e.debouncer = triage.NewDebouncer(cfg.DebounceInterval, cfg.DebounceMaxEntries)
	e.registry = island.NewRegistry(sink, island.WithCapacity(cfg.MaxIslands), island.WithClock(e.now))

	e.ignored = map[string]struct{}{}
	for _, p := range builtinIgnored {
		e.ignored[p] = struct{}{}
	}
	for _, p := range cfg.IgnorePackages {
		e.ignored[strings.TrimSpace(p)] = struct{}{}
	}
	if cfg.SelfPackage != "" {
		e.ignored[cfg.SelfPackage] = struct{}{}
	}
	return e
}

// Registry exposes the island set for read-only reporting.
func (e *Engine) Registry() *island.Registry { return e.registry }

func (e *Engine) Connected() bool { return e.connected.Load() }

// OnConnected marks the feed live and pulls fresh settings. A failed refresh
// leaves the last snapshot in place.
func (e *Engine) OnConnected(ctx context.Context) {
	if e.connected.Swap(true) {
		return
	}
	if e.settings == nil {
		return
	}
	if err := e.settings.Refresh(ctx); err != nil {
		e.log.Warn("settings refresh on connect failed; using last snapshot", logx.Err(err))
	}
	e.log.Info("listener connected")
}

// OnPosted runs one posted notification through the pipeline. It never
// returns an error: failures are logged and reported in the Decision.
func (e *Engine) OnPosted(ctx context.Context, ev island.Event) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event processing panicked", logx.String("key", ev.Key), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			e.metrics.drop(DropPanic)
			d = Decision{Dropped: DropPanic, Detail: fmt.Sprint(r)}
		}
	}()

	if ev.Key == "" {
		return e.drop(ev, DropNoKey, "")
	}
	unlock := e.lock(ev.Key)
	defer unlock()

	if e.isIgnored(ev.Package) {
		return e.drop(ev, DropIgnored, "")
	}
	if reason := e.classifier.Junk(ev); reason != triage.NotJunk {
		return e.drop(ev, DropJunk, string(reason))
	}

	snap := e.snapshot()
	if !snap.Allowed(ev.Package) {
		return e.drop(ev, DropNotAllowed, "")
	}

	typ := e.classifier.Classify(ev)
	if !snap.TypeEnabled(ev.Package, typ) {
		d := e.drop(ev, DropTypeDisabled, typ.String())
		d.Type = typ
		return d
	}

	if !e.debouncer.Allow(ev.Key, ev.Fields(), e.now()) {
		d := e.drop(ev, DropDebounced, "")
		d.Type = typ
		return d
	}

	// Read before translating so an eviction by another key meanwhile wins.
	epoch := e.registry.Epoch(ev.Key)

	title := ev.Extras.Title
	if title == "" {
		title = ev.Package
	}
	start := time.Now()
	payload, err := e.translator.Translate(typ, translate.Request{
		Event:  ev,
		Title:  title,
		PicKey: "icon_" + ev.Package,
		Config: snap.Resolve(ev.Package),
	})
	e.metrics.observeTranslate(time.Since(start))
	if err != nil {
		e.log.Warn("translate failed", logx.String("key", ev.Key), logx.String("type", typ.String()), logx.Err(err))
		d := e.drop(ev, DropTranslateFailed, err.Error())
		d.Type = typ
		return d
	}

	mode := snap.LimitMode()
	res, err := e.registry.Admit(ctx, island.AdmitRequest{
		Key:      ev.Key,
		Type:     typ,
		Package:  ev.Package,
		Fields:   ev.Fields(),
		Payload:  payload,
		Mode:     mode,
		Priority: snap.PriorityOrder(),
		Epoch:    epoch,
	})
	d = Decision{Type: typ, Outcome: res.Outcome, ID: res.ID}

	if res.Evicted != nil {
		d.Evicted = res.Evicted.Key
		e.metrics.evicted(mode.String())
		e.publish("island.evicted", IslandEvent{Key: res.Evicted.Key, ID: res.Evicted.ID, Package: res.Evicted.Package, Type: res.Evicted.Type.String(), Reason: mode.String()})
		e.log.Debug("island evicted", logx.String("key", res.Evicted.Key), logx.String("for", ev.Key), logx.String("mode", mode.String()))
		if res.CancelErr != nil {
			e.metrics.sinkError("cancel")
			e.log.Warn("cancel of evicted island failed", logx.Int32("id", res.Evicted.ID), logx.Err(res.CancelErr))
		}
	}
	if err != nil {
		e.metrics.sinkError("post")
		e.log.Warn("island post failed", logx.String("key", ev.Key), logx.Int32("id", res.ID), logx.Err(err))
		d.Detail = err.Error()
	}

	e.metrics.outcome(res.Outcome.String(), typ.String())
	e.metrics.setActive(e.registry.Len())
	if res.Outcome != island.OutcomePostFailed {
		e.publish("island."+res.Outcome.String(), IslandEvent{Key: ev.Key, ID: res.ID, Package: ev.Package, Type: typ.String()})
	}
	return d
}

// OnRemoved cancels the island for key, if any, and forgets its debounce
// state. It reports whether an island was removed.
func (e *Engine) OnRemoved(ctx context.Context, key string) (removed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("removal panicked", logx.String("key", key), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			removed = false
		}
	}()
	if key == "" {
		return false
	}
	unlock := e.lock(key)
	defer unlock()

	gone, ok, err := e.registry.Remove(ctx, key)
	e.debouncer.Forget(key)
	if !ok {
		return false
	}
	if err != nil {
		e.metrics.sinkError("cancel")
		e.log.Warn("island cancel failed", logx.String("key", key), logx.Int32("id", gone.ID), logx.Err(err))
	}
	e.metrics.removed()
	e.metrics.setActive(e.registry.Len())
	e.publish("island.removed", IslandEvent{Key: key, ID: gone.ID, Package: gone.Package, Type: gone.Type.String()})
	return true
}

func (e *Engine) snapshot() *settings.Snapshot {
	if e.settings != nil {
		if s := e.settings.Current(); s != nil {
			return s
		}
	}
	return settings.Defaults()
}

func (e *Engine) isIgnored(pkg string) bool {
	if _, ok := e.ignored[pkg]; ok {
		return true
	}
	return strings.Contains(pkg, ignoredMarker)
}

func (e *Engine) drop(ev island.Event, reason DropReason, detail string) Decision {
	e.metrics.drop(reason)
	e.dropLog.Trace("event dropped", logx.String("key", ev.Key), logx.String("package", ev.Package), logx.String("reason", string(reason)), logx.String("detail", detail))
	if reason == DropDebounced || reason == DropTypeDisabled || reason == DropJunk {
		e.publish("island.dropped", IslandEvent{Key: ev.Key, Package: ev.Package, Reason: string(reason)})
	}
	return Decision{Dropped: reason, Detail: detail}
}

// lock serializes every operation for one key.
func (e *Engine) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &e.stripes[h.Sum32()%keyStripes]
	m.Lock()
	return m.Unlock
}

func (e *Engine) publish(typ string, ev IslandEvent) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
