package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"hyperbridge/internal/eventbus"
	"hyperbridge/internal/island"
	"hyperbridge/internal/settings"
)

type staticSettings struct {
	mu        sync.Mutex
	snap      *settings.Snapshot
	refreshes int
}

func newSettings(kv map[string]string) *staticSettings {
	s, _ := settings.Parse(kv, time.Now())
	return &staticSettings{snap: s}
}

func (s *staticSettings) Current() *settings.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *staticSettings) Refresh(context.Context) error {
	s.mu.Lock()
	s.refreshes++
	s.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	posts   []int32
	cancels []int32
	postErr error
	panicOn bool
}

func (r *recordingSink) Post(_ context.Context, id int32, _ island.Payload) error {
	if r.panicOn {
		panic("sink exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.postErr != nil {
		return r.postErr
	}
	r.posts = append(r.posts, id)
	return nil
}

func (r *recordingSink) Cancel(_ context.Context, id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels = append(r.cancels, id)
	return nil
}

func (r *recordingSink) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.posts), len(r.cancels)
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func allowAll(pkgs ...string) map[string]string {
	list := "["
	for i, p := range pkgs {
		if i > 0 {
			list += ","
		}
		list += fmt.Sprintf("%q", p)
	}
	return map[string]string{settings.KeyAllowedPackages: list + "]"}
}

func msg(key, pkg, title, text string) island.Event {
	return island.Event{Key: key, Package: pkg, Extras: island.Extras{Title: title, Text: text}}
}

type harness struct {
	eng   *Engine
	sink  *recordingSink
	clock *manualClock
	bus   eventbus.Bus
}

func newHarness(t *testing.T, cfg Config, kv map[string]string, opts ...Option) *harness {
	t.Helper()
	h := &harness{sink: &recordingSink{}, clock: &manualClock{t: time.Unix(1_700_000_000, 0)}, bus: eventbus.New()}
	opts = append([]Option{WithClock(h.clock.Now), WithBus(h.bus)}, opts...)
	h.eng = New(cfg, newSettings(kv), h.sink, opts...)
	return h
}

func TestPostedLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, allowAll("com.chat"))
	ctx := context.Background()

	d := h.eng.OnPosted(ctx, msg("k1", "com.chat", "Alice", "hi"))
	if d.Dropped != "" || d.Outcome != island.OutcomeCreated || d.Type != island.TypeStandard {
		t.Fatalf("first post = %+v", d)
	}

	// Same content inside the debounce window.
	h.clock.Advance(50 * time.Millisecond)
	if d := h.eng.OnPosted(ctx, msg("k1", "com.chat", "Alice", "hi")); d.Dropped != DropDebounced {
		t.Fatalf("repeat inside window = %+v", d)
	}

	// Changed content bypasses the window.
	if d := h.eng.OnPosted(ctx, msg("k1", "com.chat", "Alice", "hi again")); d.Outcome != island.OutcomeUpdated {
		t.Fatalf("changed content = %+v", d)
	}

	// Same content after the window renders identically and is suppressed.
	h.clock.Advance(time.Second)
	if d := h.eng.OnPosted(ctx, msg("k1", "com.chat", "Alice", "hi again")); d.Outcome != island.OutcomeSuppressed {
		t.Fatalf("identical render = %+v", d)
	}
	if posts, _ := h.sink.counts(); posts != 2 {
		t.Fatalf("posts = %d, want 2", posts)
	}

	if !h.eng.OnRemoved(ctx, "k1") {
		t.Fatal("remove should report the island")
	}
	if h.eng.OnRemoved(ctx, "k1") {
		t.Fatal("second remove should be a no-op")
	}
	if _, cancels := h.sink.counts(); cancels != 1 {
		t.Fatalf("cancels = %d, want 1", cancels)
	}

	// Removal forgets debounce state, so the same content posts immediately.
	if d := h.eng.OnPosted(ctx, msg("k1", "com.chat", "Alice", "hi again")); d.Outcome != island.OutcomeCreated {
		t.Fatalf("repost after removal = %+v", d)
	}
}

func TestDropReasons(t *testing.T) {
	t.Parallel()
	kv := allowAll("com.chat", "com.app.self", "com.mail")
	kv[settings.AppTypesKey("com.mail")] = `["CALL"]`

	tests := []struct {
		name string
		ev   island.Event
		want DropReason
	}{
		{"no key", msg("", "com.chat", "a", "b"), DropNoKey},
		{"self", msg("k", "com.app.self", "a", "b"), DropIgnored},
		{"system ui", msg("k", "com.android.systemui", "a", "b"), DropIgnored},
		{"miui marker", msg("k", "com.miui.notification.x", "a", "b"), DropIgnored},
		{"junk empty", msg("k", "com.chat", " ", ""), DropJunk},
		{"not allowed", msg("k", "com.other", "a", "b"), DropNotAllowed},
		{"type disabled", msg("k", "com.mail", "Inbox", "3 new"), DropTypeDisabled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{SelfPackage: "com.app.self"}, kv)
			if d := h.eng.OnPosted(context.Background(), tt.ev); d.Dropped != tt.want {
				t.Fatalf("dropped = %q (%s), want %q", d.Dropped, d.Detail, tt.want)
			}
			if posts, _ := h.sink.counts(); posts != 0 {
				t.Fatalf("dropped event reached the sink")
			}
		})
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxIslands: 2}, allowAll("com.a"))
	events, unsub := h.bus.Subscribe(32, "island.evicted")
	defer unsub()
	ctx := context.Background()

	for i, key := range []string{"k1", "k2", "k3"} {
		h.clock.Advance(time.Second)
		d := h.eng.OnPosted(ctx, msg(key, "com.a", "t", fmt.Sprint(i)))
		if d.Outcome != island.OutcomeCreated {
			t.Fatalf("%s: %+v", key, d)
		}
		if key == "k3" && d.Evicted != "k1" {
			t.Fatalf("evicted %q, want k1", d.Evicted)
		}
	}
	if n := h.eng.Registry().Len(); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}
	select {
	case e := <-events:
		if e.Data.(IslandEvent).Key != "k1" {
			t.Fatalf("evicted event = %+v", e.Data)
		}
	default:
		t.Fatal("no island.evicted event")
	}
}

func TestFirstComeRejects(t *testing.T) {
	t.Parallel()
	kv := allowAll("com.a")
	kv[settings.KeyLimitMode] = "FIRST_COME"
	h := newHarness(t, Config{MaxIslands: 1}, kv)
	ctx := context.Background()

	h.eng.OnPosted(ctx, msg("k1", "com.a", "t", "1"))
	if d := h.eng.OnPosted(ctx, msg("k2", "com.a", "t", "2")); d.Outcome != island.OutcomeRejected {
		t.Fatalf("second island = %+v", d)
	}
}

func TestSinkFailuresAreContained(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, allowAll("com.a"))
	ctx := context.Background()

	h.sink.postErr = errors.New("overlay gone")
	d := h.eng.OnPosted(ctx, msg("k1", "com.a", "t", "x"))
	if d.Outcome != island.OutcomePostFailed || d.Detail == "" {
		t.Fatalf("decision = %+v", d)
	}
	if h.eng.Registry().Len() != 0 {
		t.Fatal("failed post must not be recorded")
	}

	h.sink.postErr = nil
	h.sink.panicOn = true
	h.clock.Advance(time.Second)
	if d := h.eng.OnPosted(ctx, msg("k2", "com.a", "t", "y")); d.Dropped != DropPanic {
		t.Fatalf("panic decision = %+v", d)
	}

	// The engine keeps working after a panic.
	h.sink.panicOn = false
	if d := h.eng.OnPosted(ctx, msg("k3", "com.a", "t", "z")); d.Outcome != island.OutcomeCreated {
		t.Fatalf("post after panic = %+v", d)
	}
}

func TestConcurrentPostsRespectCapacity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxIslands: 3}, allowAll("com.a"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			h.eng.OnPosted(ctx, msg(key, "com.a", "title", fmt.Sprint(i)))
			if i%7 == 0 {
				h.eng.OnRemoved(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	if n := h.eng.Registry().Len(); n > 3 {
		t.Fatalf("registry grew to %d, cap 3", n)
	}
}

func TestOnConnectedRefreshesOnce(t *testing.T) {
	t.Parallel()
	src := newSettings(nil)
	eng := New(Config{}, src, &recordingSink{})
	eng.OnConnected(context.Background())
	eng.OnConnected(context.Background())
	if !eng.Connected() || src.refreshes != 1 {
		t.Fatalf("connected=%v refreshes=%d", eng.Connected(), src.refreshes)
	}
}

func TestMetricsRecorded(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newHarness(t, Config{}, allowAll("com.a"), WithMetrics(m))
	ctx := context.Background()

	h.eng.OnPosted(ctx, msg("k1", "com.a", "t", "x"))
	h.eng.OnPosted(ctx, msg("k2", "com.other", "t", "x"))
	h.eng.OnRemoved(ctx, "k1")

	if got := testutil.ToFloat64(m.Outcomes.WithLabelValues("created", "STANDARD")); got != 1 {
		t.Fatalf("created = %v", got)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(string(DropNotAllowed))); got != 1 {
		t.Fatalf("not_allowed drops = %v", got)
	}
	if got := testutil.ToFloat64(m.Removals); got != 1 {
		t.Fatalf("removals = %v", got)
	}
	if got := testutil.ToFloat64(m.Active); got != 0 {
		t.Fatalf("active = %v", got)
	}
}

func TestTriageDropsAndSuppressionUseSeparateTopics(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, allowAll("com.chat"))
	events, unsub := h.bus.Subscribe(32, "island.")
	defer unsub()
	ctx := context.Background()

	h.eng.OnPosted(ctx, msg("k1", "com.chat", "Alice", "hi"))
	h.clock.Advance(50 * time.Millisecond)
	h.eng.OnPosted(ctx, msg("k1", "com.chat", "Alice", "hi"))
	h.clock.Advance(time.Second)
	h.eng.OnPosted(ctx, msg("k1", "com.chat", "Alice", "hi"))

	type seen struct{ Type, Reason string }
	var got []seen
	for len(got) < 3 {
		select {
		case e := <-events:
			got = append(got, seen{e.Type, e.Data.(IslandEvent).Reason})
		case <-time.After(time.Second):
			t.Fatalf("events = %+v, want 3", got)
		}
	}
	want := []seen{
		{"island.created", ""},
		{"island.dropped", string(DropDebounced)},
		{"island.suppressed", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}
