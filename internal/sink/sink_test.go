package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"hyperbridge/internal/eventbus"
	"hyperbridge/internal/island"
	"hyperbridge/pkg/logx"
)

func TestJSONLWritesRecords(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewJSONL(&buf)
	ctx := context.Background()

	p := island.Payload{Pictures: []island.Picture{{Key: "pic", Source: "app:x"}}, Param: `{"param_v2":{}}`}
	if err := s.Post(ctx, 7, p); err != nil {
		t.Fatal(err)
	}
	if err := s.Cancel(ctx, 7); err != nil {
		t.Fatal(err)
	}

	var recs []Record
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		recs = append(recs, r)
	}
	if len(recs) != 2 || recs[0].Op != "post" || recs[1].Op != "cancel" || recs[0].ID != 7 {
		t.Fatalf("records = %+v", recs)
	}
	if _, err := uuid.Parse(recs[0].DeliveryID); err != nil || recs[0].DeliveryID == recs[1].DeliveryID {
		t.Fatalf("delivery ids %q %q", recs[0].DeliveryID, recs[1].DeliveryID)
	}
	if string(recs[0].Param) != `{"param_v2":{}}` || recs[1].Param != nil {
		t.Fatalf("params = %s / %s", recs[0].Param, recs[1].Param)
	}
}

type flakySink struct {
	mu      sync.Mutex
	failFor int
	calls   []string
	done    chan struct{}
	want    int
}

func (f *flakySink) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return errors.New("transient")
	}
	f.calls = append(f.calls, op)
	if len(f.calls) == f.want {
		close(f.done)
	}
	return nil
}

func (f *flakySink) Post(_ context.Context, id int32, _ island.Payload) error {
	return f.record("post")
}

func (f *flakySink) Cancel(_ context.Context, id int32) error {
	return f.record("cancel")
}

func fastConfig() Config {
	return Config{QueueSize: 8, RatePerSec: 1000, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestDispatcherDeliversInOrderWithRetry(t *testing.T) {
	t.Parallel()
	next := &flakySink{failFor: 2, done: make(chan struct{}), want: 3}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "sink.")
	defer unsub()

	d := NewDispatcher(fastConfig(), next, logx.Nop(), bus)
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	_ = d.Post(ctx, 1, island.Payload{Param: "{}"})
	_ = d.Post(ctx, 1, island.Payload{Param: "{}"})
	_ = d.Cancel(ctx, 1)

	select {
	case <-next.done:
	case <-time.After(2 * time.Second):
		t.Fatal("deliveries did not complete")
	}
	next.mu.Lock()
	got := append([]string(nil), next.calls...)
	next.mu.Unlock()
	if len(got) != 3 || got[2] != "cancel" {
		t.Fatalf("calls = %v", got)
	}
	first := <-events
	if ev := first.Data.(DeliveryEvent); first.Type != "sink.delivered" || ev.Attempts != 3 {
		t.Fatalf("first event = %s %+v", first.Type, first.Data)
	}
}

type blockingSink struct{ release chan struct{} }

func (b *blockingSink) Post(ctx context.Context, _ int32, _ island.Payload) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingSink) Cancel(context.Context, int32) error { return nil }

func TestDispatcherQueueFull(t *testing.T) {
	t.Parallel()
	blk := &blockingSink{release: make(chan struct{})}
	cfg := fastConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(cfg, blk, logx.Nop(), nil)
	ctx := context.Background()
	d.Start(ctx)

	var full bool
	for i := 0; i < 5; i++ {
		if err := d.Post(ctx, int32(i), island.Payload{Param: "{}"}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	close(blk.release)
	if !full {
		t.Fatal("expected ErrQueueFull once the queue is saturated")
	}
	if d.Stats().Dropped == 0 {
		t.Fatal("dropped counter not incremented")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	d.Stop(stopCtx)
	if err := d.Post(ctx, 9, island.Payload{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("post after stop: %v, want ErrStopped", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}.withDefaults()
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter window", d)
	}
}
