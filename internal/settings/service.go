package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"hyperbridge/internal/eventbus"
	"hyperbridge/internal/island"
	"hyperbridge/internal/storage"
	"hyperbridge/pkg/logx"
)

const DefaultRefreshEvery = 30 * time.Second

// RefreshEvent is published as "settings.refreshed" when a refresh observes a
// new revision.
type RefreshEvent struct {
	Revision uint64 `json:"revision"`
	Allowed  int    `json:"allowed"`
	Mode     string `json:"mode"`
}

// Service serves the current settings snapshot and writes changes through to
// the store. Current never touches the store.
type Service struct {
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus
	actor string
	now   func() time.Time

	cur atomic.Pointer[Snapshot]

	mu    sync.Mutex
	cron  *cron.Cron
	every time.Duration
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

// WithActor tags audit entries written by this service.
func WithActor(actor string) Option { return func(s *Service) { s.actor = actor } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a service serving Defaults until the first Refresh. A nil store
// keeps the defaults forever and rejects writes with storage.ErrDisabled.
func New(store storage.Store, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, log: log.With(logx.String("comp", "settings")), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.cur.Store(Defaults())
	return s
}

// Current returns the latest snapshot.
func (s *Service) Current() *Snapshot { return s.cur.Load() }

// Refresh reloads the snapshot from the store. On failure the previous
// snapshot stays in place.
func (s *Service) Refresh(ctx context.Context) error {
	if s.store == nil {
		return storage.ErrDisabled
	}
	kv, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	next, warns := Parse(kv, s.now())
	for _, w := range warns {
		s.log.Warn("malformed setting ignored", logx.String("detail", w))
	}
	prev := s.cur.Swap(next)
	if prev == nil || prev.Revision() != next.Revision() {
		s.log.Debug("settings refreshed", logx.Int("allowed", len(next.allowed)), logx.String("mode", next.mode.String()))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "settings.refreshed", Data: RefreshEvent{
				Revision: next.Revision(),
				Allowed:  len(next.allowed),
				Mode:     next.mode.String(),
			}})
		}
	}
	return nil
}

// Start refreshes once, then on a cron "@every" schedule until Stop.
func (s *Service) Start(ctx context.Context, every time.Duration) error {
	if err := s.Refresh(ctx); err != nil && !errors.Is(err, storage.ErrDisabled) {
		s.log.Warn("initial settings load failed; serving defaults", logx.Err(err))
	}
	if s.store == nil {
		return nil
	}
	return s.schedule(every)
}

// Apply changes the refresh interval of a running service.
func (s *Service) Apply(every time.Duration) error {
	s.mu.Lock()
	running, same := s.cron != nil, s.every == normalizeEvery(every)
	s.mu.Unlock()
	if !running || same {
		return nil
	}
	return s.schedule(every)
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func normalizeEvery(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultRefreshEvery
	}
	return d
}

func (s *Service) schedule(every time.Duration) error {
	every = normalizeEvery(every)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})))
	if _, err := c.AddFunc("@every "+every.String(), s.refreshTick); err != nil {
		return fmt.Errorf("schedule settings refresh: %w", err)
	}

	s.mu.Lock()
	old := s.cron
	s.cron, s.every = c, every
	s.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	c.Start()
	return nil
}

func (s *Service) refreshTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("settings refresh failed; keeping last snapshot", logx.Err(err))
	}
}

// SetAllowed replaces the allowed package set.
func (s *Service) SetAllowed(ctx context.Context, pkgs []string) error {
	clean := make([]string, 0, len(pkgs))
	seen := map[string]bool{}
	for _, p := range pkgs {
		if p = strings.TrimSpace(p); p != "" && !seen[p] {
			seen[p] = true
			clean = append(clean, p)
		}
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	return s.put(ctx, KeyAllowedPackages, string(raw))
}

// Allow adds pkg to the allowed set.
func (s *Service) Allow(ctx context.Context, pkg string) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	return s.SetAllowed(ctx, append(s.Current().AllowedPackages(), pkg))
}

// Deny removes pkg from the allowed set.
func (s *Service) Deny(ctx context.Context, pkg string) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	var keep []string
	for _, p := range s.Current().AllowedPackages() {
		if p != pkg {
			keep = append(keep, p)
		}
	}
	return s.SetAllowed(ctx, keep)
}

func (s *Service) SetLimitMode(ctx context.Context, mode string) error {
	m, ok := island.ParseLimitMode(mode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return s.put(ctx, KeyLimitMode, m.String())
}

// SetPriorityOrder stores the ranked package list, best first.
func (s *Service) SetPriorityOrder(ctx context.Context, pkgs []string) error {
	return s.put(ctx, KeyPriorityOrder, strings.Join(splitList(strings.Join(pkgs, ",")), ","))
}

// SetAppTypes stores pkg's enabled types. A nil slice clears the override so
// every type is enabled again.
func (s *Service) SetAppTypes(ctx context.Context, pkg string, types []island.Type) error {
	if types == nil {
		return s.del(ctx, AppTypesKey(pkg))
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.String())
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return s.put(ctx, AppTypesKey(pkg), string(raw))
}

// SetAppAppearance writes the set fields of c for pkg and clears the rest.
func (s *Service) SetAppAppearance(ctx context.Context, pkg string, c island.Config) error {
	return s.writeAppearance(ctx, AppFloatKey(pkg), AppShadeKey(pkg), AppTimeoutKey(pkg), c)
}

func (s *Service) SetGlobalAppearance(ctx context.Context, c island.Config) error {
	return s.writeAppearance(ctx, KeyGlobalFloat, KeyGlobalShade, KeyGlobalTimeout, c)
}

func (s *Service) writeAppearance(ctx context.Context, floatKey, shadeKey, timeoutKey string, c island.Config) error {
	ops := []struct {
		key string
		val *string
	}{
		{floatKey, fmtBool(c.Float)},
		{shadeKey, fmtBool(c.ShowShade)},
		{timeoutKey, fmtMillis(c.Timeout)},
	}
	for _, op := range ops {
		var err error
		if op.val == nil {
			err = s.write(ctx, op.key, "", true)
		} else {
			err = s.write(ctx, op.key, *op.val, false)
		}
		if err != nil {
			return err
		}
	}
	return s.Refresh(ctx)
}

func (s *Service) put(ctx context.Context, key, value string) error {
	if err := s.write(ctx, key, value, false); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Service) del(ctx context.Context, key string) error {
	if err := s.write(ctx, key, "", true); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Service) write(ctx context.Context, key, value string, remove bool) error {
	if s.store == nil {
		return storage.ErrDisabled
	}
	op := "put"
	var err error
	if remove {
		op = "delete"
		err = s.store.Delete(ctx, key)
	} else {
		err = s.store.Put(ctx, key, value)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	if err := s.store.AppendAudit(ctx, storage.AuditEntry{At: s.now(), Actor: s.actor, Op: op, Key: key, Value: value}); err != nil {
		s.log.Warn("audit append failed", logx.String("key", key), logx.Err(err))
	}
	return nil
}

func fmtBool(v *bool) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatBool(*v)
	return &s
}

func fmtMillis(v *time.Duration) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatInt(v.Milliseconds(), 10)
	return &s
}

// cronLogger routes cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
