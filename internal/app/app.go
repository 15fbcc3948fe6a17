// Package app assembles the hyperbridge daemon: config, logging, settings
// storage, the bridge engine, the sink pipeline, notification feeds and the
// ops server, and owns their start/stop ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"hyperbridge/internal/bridge"
	"hyperbridge/internal/config"
	"hyperbridge/internal/eventbus"
	"hyperbridge/internal/listener"
	"hyperbridge/internal/observability/ops"
	"hyperbridge/internal/runtime/supervisor"
	"hyperbridge/internal/settings"
	"hyperbridge/internal/sink"
	"hyperbridge/internal/storage"
	"hyperbridge/internal/translate"
	"hyperbridge/internal/triage"
	"hyperbridge/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	rt   *config.Runtime
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	store    storage.Store
	settings *settings.Service
	out      *sink.JSONL
	disp     *sink.Dispatcher
	engine   *bridge.Engine
	feed     *listener.Listener
	ops      *ops.Service

	stdin io.Reader
}

type Option func(*App)

// WithStdin replaces os.Stdin as the stream feed.
func WithStdin(r io.Reader) Option { return func(a *App) { a.stdin = r } }

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(rt.Logging)
	cfgm = config.NewManager(cfgPath, log)
	cfgm.Commit(cfg)

	bus := eventbus.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := storage.Open(rt.Storage, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if store == nil {
		log.Warn("storage disabled; serving built-in settings")
	} else {
		log.Info("storage enabled", logx.String("driver", rt.Storage.Driver))
	}

	out, err := sink.OpenJSONL(rt.SinkPath)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		logSvc.Close()
		return nil, err
	}

	settingsSvc := settings.New(store, log, settings.WithBus(bus), settings.WithActor("daemon"))
	disp := sink.NewDispatcher(rt.Sink, out, log, bus)
	eng := bridge.New(rt.Engine, settingsSvc, disp,
		bridge.WithLogger(log),
		bridge.WithBus(bus),
		bridge.WithMetrics(bridge.NewMetrics(reg)),
		bridge.WithLabeler(triage.StaticLabels(rt.Labels)),
		bridge.WithTranslator(translate.NewSet(translate.WithArrivalKeywords(rt.Arrival))),
	)

	a := &App{
		cfgm:     cfgm,
		rt:       rt,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		reg:      reg,
		store:    store,
		settings: settingsSvc,
		out:      out,
		disp:     disp,
		engine:   eng,
		stdin:    os.Stdin,
	}
	for _, o := range opts {
		o(a)
	}
	a.ops = ops.New(ops.Sources{
		Islands:  eng.Registry().Snapshot,
		Gatherer: reg,
		Health:   a.health,
	}, log)
	return a, nil
}

// Done is closed when the app context is canceled (fatal error, closed feed
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Engine exposes the bridge engine for reporting.
func (a *App) Engine() *bridge.Engine { return a.engine }

// OpsAddr is the bound ops server address, or "".
func (a *App) OpsAddr() string { return a.ops.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	if err := a.settings.Start(a.sup.Context(), a.rt.RefreshEvery); err != nil {
		return fmt.Errorf("schedule settings refresh: %w", err)
	}
	// The sink and feed workers outlive the app context so Stop can drain
	// queued events through the engine into the sink.
	drain := context.WithoutCancel(a.sup.Context())
	a.disp.Start(drain)
	if err := a.ops.Reconfigure(a.sup.Context(), a.rt.Ops); err != nil {
		return err
	}

	a.feed = listener.New(drain, a.engine, a.rt.Listener, a.log)
	if a.rt.Stdin {
		a.sup.Go("listener.stdin", func(c context.Context) error {
			err := a.feed.Serve(c, a.stdin)
			if errors.Is(err, listener.ErrClosed) {
				return nil
			}
			if err == nil && a.rt.Socket == "" {
				a.log.Info("stdin feed closed; shutting down")
				a.sup.Cancel()
			}
			return err
		})
	}
	if a.rt.Socket != "" {
		a.sup.Go("listener.socket", func(c context.Context) error {
			return a.feed.ServeUnix(c, a.rt.Socket)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.startWatchdog()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("hyperbridge started",
		logx.Bool("stdin", a.rt.Stdin),
		logx.String("socket", a.rt.Socket),
		logx.String("sink", a.rt.SinkPath),
		logx.String("ops", a.ops.Addr()),
	)
	return nil
}

// startWatchdog pings systemd at half the configured WatchdogSec.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) reloadLoop(c context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-c.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			next = cfg
		}
	coalesce:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break coalesce
			}
		}
		a.apply(c, last, next)
		last = next
	}
}

// apply pushes a validated config into every hot-reloadable component.
func (a *App) apply(c context.Context, prev, next *config.Config) {
	rt, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if pending := config.RestartRequired(prev, next); len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(pending, ",")))
	}

	a.logs.Apply(rt.Logging)
	a.disp.Apply(rt.Sink)
	if err := a.settings.Apply(rt.RefreshEvery); err != nil {
		a.log.Warn("settings refresh reschedule failed", logx.Err(err))
	}
	if err := a.ops.Reconfigure(c, rt.Ops); err != nil {
		a.log.Warn("ops server reconfigure failed", logx.Err(err))
	}
	a.rt.Logging, a.rt.Sink, a.rt.RefreshEvery, a.rt.Ops = rt.Logging, rt.Sink, rt.RefreshEvery, rt.Ops

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() ops.Health {
	snap := a.settings.Current()
	detail := map[string]any{
		"connected":        a.engine.Connected(),
		"islands":          a.engine.Registry().Len(),
		"capacity":         a.engine.Registry().Capacity(),
		"settings_rev":     snap.Revision(),
		"settings_loaded":  snap.LoadedAt(),
		"sink":             a.disp.Stats(),
		"bus_dropped":      a.bus.Dropped(),
		"tasks":            a.sup.Snapshot(),
		"storage_disabled": a.store == nil,
	}
	if sup := a.disp.Supervisor(); sup != nil {
		detail["sink_worker"] = sup.Snapshot()
	}
	ok := a.sup.Err() == nil
	if !ok {
		detail["error"] = a.sup.Err().Error()
	}
	return ops.Health{OK: ok, Detail: detail}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Feeds first so queued events still reach a live engine and sink.
	step("listener", 3*time.Second, func(context.Context) error {
		if a.feed != nil {
			a.feed.Close()
		}
		return nil
	})
	step("settings", time.Second, func(context.Context) error { a.settings.Stop(); return nil })
	step("sink", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("sink.output", time.Second, func(context.Context) error { return a.out.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.Int("islands", a.engine.Registry().Len()))
	a.logs.Close()
	return nil
}
