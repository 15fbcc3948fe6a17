package sink

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"hyperbridge/internal/eventbus"
	"hyperbridge/internal/island"
	rtsup "hyperbridge/internal/runtime/supervisor"
	"hyperbridge/pkg/logx"
)

var (
	ErrQueueFull = errors.New("sink queue full")
	ErrStopped   = errors.New("sink stopped")
)

// Config controls the delivery pipeline.
type Config struct {
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	return c
}

type opKind uint8

const (
	opPost opKind = iota
	opCancel
)

func (k opKind) String() string {
	if k == opCancel {
		return "cancel"
	}
	return "post"
}

type job struct {
	kind    opKind
	id      int32
	payload island.Payload
}

// DeliveryEvent is published on the bus for every finished job.
type DeliveryEvent struct {
	Op       string `json:"op"`
	ID       int32  `json:"id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Stats are cumulative delivery counters.
type Stats struct {
	Queued    uint64 `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Dispatcher is an island.Sink that queues posts and cancels and delivers
// them to a downstream sink from a single ordered worker, rate limited and
// retried with jittered exponential backoff. Post and Cancel never block on
// the downstream sink; a full queue returns ErrQueueFull.
type Dispatcher struct {
	mu      sync.Mutex
	next    island.Sink
	log     logx.Logger
	bus     eventbus.Bus
	cfg     Config
	limiter *rate.Limiter

	accepting bool
	inflight  sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	queued, delivered, failed, dropped atomic.Uint64
}

var _ island.Sink = (*Dispatcher)(nil)

func NewDispatcher(cfg Config, next island.Sink, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{next: next, log: log.With(logx.String("comp", "sink")), bus: bus}
	d.applyLocked(cfg)
	return d
}

// Apply swaps limits in place. Queue size takes effect on the next Start.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	d.cfg = cfg.withDefaults()
	d.limiter = rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), d.cfg.RatePerSec)
}

// Start launches the worker. It is idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if done := d.stopDone; done != nil {
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		d.mu.Lock()
	}
	if d.queue != nil {
		d.mu.Unlock()
		return
	}
	d.queue = make(chan job, d.cfg.QueueSize)
	d.accepting = true
	d.sup = rtsup.New(ctx, rtsup.WithLogger(d.log))
	q, sup := d.queue, d.sup
	d.mu.Unlock()

	sup.GoRestart("sink.worker", func(c context.Context) error {
		d.workerLoop(c, q)
		d.mu.Lock()
		stopping := d.stopDone != nil
		d.mu.Unlock()
		if stopping || c.Err() != nil {
			return nil
		}
		return errors.New("sink worker exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))
}

// Stop closes intake and drains the queue until ctx ends, then cancels the
// worker.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	q, sup := d.queue, d.sup
	if q == nil {
		d.mu.Unlock()
		return
	}
	if done := d.stopDone; done != nil {
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	d.stopDone = done
	d.accepting = false
	d.mu.Unlock()

	go func() {
		defer close(done)
		d.inflight.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		d.mu.Lock()
		d.queue, d.sup, d.stopDone = nil, nil, nil
		d.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (d *Dispatcher) Post(ctx context.Context, id int32, p island.Payload) error {
	return d.enqueue(ctx, job{kind: opPost, id: id, payload: p})
}

func (d *Dispatcher) Cancel(ctx context.Context, id int32) error {
	return d.enqueue(ctx, job{kind: opCancel, id: id})
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    d.queued.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Supervisor exposes the worker supervisor for health reporting; nil when
// stopped.
func (d *Dispatcher) Supervisor() *rtsup.Supervisor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sup
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if !d.accepting || d.queue == nil {
		d.mu.Unlock()
		return ErrStopped
	}
	q := d.queue
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()

	select {
	case q <- j:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		d.publish("sink.dropped", DeliveryEvent{Op: j.kind.String(), ID: j.id, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	d.mu.Lock()
	cfg, lim, next := d.cfg, d.limiter, d.next
	d.mu.Unlock()
	if next == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		var err error
		switch j.kind {
		case opPost:
			err = next.Post(callCtx, j.id, j.payload)
		case opCancel:
			err = next.Cancel(callCtx, j.id)
		}
		cancel()
		if err == nil {
			d.delivered.Add(1)
			d.publish("sink.delivered", DeliveryEvent{Op: j.kind.String(), ID: j.id, Attempts: attempt})
			return
		}
		lastErr = err
		d.log.Debug("sink delivery failed", logx.String("op", j.kind.String()), logx.Int32("id", j.id), logx.Int("attempt", attempt), logx.Err(err))
		if attempt == attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	d.failed.Add(1)
	d.log.Warn("sink delivery gave up", logx.String("op", j.kind.String()), logx.Int32("id", j.id), logx.Int("attempts", attempts), logx.Err(lastErr))
	d.publish("sink.failed", DeliveryEvent{Op: j.kind.String(), ID: j.id, Attempts: attempts, Error: lastErr.Error()})
}

func (d *Dispatcher) publish(typ string, ev DeliveryEvent) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

// retryDelay is base*2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
