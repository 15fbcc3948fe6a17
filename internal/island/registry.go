package island

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultMaxIslands is the number of islands the overlay can show at once.
	DefaultMaxIslands = 9

	defaultTombstones = 4096
)

// Outcome is the result of one Admit call.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	// OutcomeSuppressed: rendered content unchanged; nothing posted.
	OutcomeSuppressed
	// OutcomeRejected: at capacity and the eviction policy freed no slot.
	OutcomeRejected
	// OutcomeStale: the key was removed or evicted after the caller read its epoch.
	OutcomeStale
	// OutcomePostFailed: the sink refused the post; the entry was not written.
	OutcomePostFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeStale:
		return "stale"
	case OutcomePostFailed:
		return "post_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Posted reports whether the outcome resulted in a sink post.
func (o Outcome) Posted() bool { return o == OutcomeCreated || o == OutcomeUpdated }

// AdmitRequest carries everything the registry needs to admit one payload.
type AdmitRequest struct {
	Key     string
	Type    Type
	Package string
	Fields  Fields
	Payload Payload

	// Mode and Priority come from the caller's settings snapshot.
	Mode     LimitMode
	Priority []string

	// Epoch is the value of Registry.Epoch(Key) observed before translation.
	Epoch uint64
}

type AdmitResult struct {
	Outcome Outcome
	ID      int32
	// Evicted is set when a different island was removed to make room.
	Evicted *ActiveIsland
	// CancelErr is the sink error from cancelling the evicted island, if any.
	CancelErr error
}

// Registry is the authoritative set of displayed islands.
//
// Every operation runs under one mutex so the capacity check, the eviction and
// the insert are atomic with respect to each other.
type Registry struct {
	mu      sync.Mutex
	sink    Sink
	max     int
	now     func() time.Time
	entries map[string]*ActiveIsland

	// epochs counts removals per key; it only grows. An in-flight post whose
	// observed epoch is behind the current one is stale.
	epochs *lru.Cache[string, uint64]
}

type RegistryOption func(*Registry)

func WithCapacity(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.max = n
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(sink Sink, opts ...RegistryOption) *Registry {
	r := &Registry{
		sink:    sink,
		max:     DefaultMaxIslands,
		now:     time.Now,
		entries: map[string]*ActiveIsland{},
	}
	for _, o := range opts {
		o(r)
	}
	// Size is a constant > 0; New only fails on size <= 0.
	r.epochs, _ = lru.New[string, uint64](defaultTombstones)
	return r
}

func (r *Registry) Capacity() int { return r.max }

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Epoch returns the removal counter for key. Capture it before doing work that
// ends in Admit so a concurrent removal is detected.
func (r *Registry) Epoch(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, _ := r.epochs.Peek(key)
	return v
}

func (r *Registry) Get(key string) (ActiveIsland, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return ActiveIsland{}, false
	}
	return *e, true
}

// Snapshot returns a copy of all islands, oldest first.
func (r *Registry) Snapshot() []ActiveIsland {
	r.mu.Lock()
	out := make([]ActiveIsland, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostTime.Equal(out[j].PostTime) {
			return out[i].PostTime.Before(out[j].PostTime)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Admit posts req.Payload for req.Key unless it is a duplicate render, stale,
// or there is no room for it. The returned error is the sink's post error.
func (r *Registry) Admit(ctx context.Context, req AdmitRequest) (AdmitResult, error) {
	hash := Fingerprint(req.Payload.Param)
	id := StableID(req.Key)

	r.mu.Lock()
	defer r.mu.Unlock()

	res := AdmitResult{ID: id}

	existing, isUpdate := r.entries[req.Key]
	if isUpdate && existing.ContentHash == hash {
		res.Outcome = OutcomeSuppressed
		return res, nil
	}
	if cur, _ := r.epochs.Peek(req.Key); cur > req.Epoch {
		res.Outcome = OutcomeStale
		return res, nil
	}

	if !isUpdate && len(r.entries) >= r.max {
		victim, ok := selectVictim(req.Mode, r.entries, req.Package, req.Priority)
		if !ok {
			res.Outcome = OutcomeRejected
			return res, nil
		}
		ev := r.removeLocked(victim)
		res.Evicted = &ev
		res.CancelErr = r.cancel(ctx, ev.ID)
	}

	if err := r.post(ctx, id, req.Payload); err != nil {
		res.Outcome = OutcomePostFailed
		return res, fmt.Errorf("post island %d: %w", id, err)
	}

	e := &ActiveIsland{
		ID:          id,
		Key:         req.Key,
		Type:        req.Type,
		PostTime:    r.now(),
		Package:     req.Package,
		Title:       req.Fields.Title,
		Text:        req.Fields.Text,
		SubText:     req.Fields.SubText,
		ContentHash: hash,
	}
	r.entries[req.Key] = e
	if isUpdate {
		res.Outcome = OutcomeUpdated
	} else {
		res.Outcome = OutcomeCreated
	}
	return res, nil
}

// Remove cancels and forgets the island for key. It is a no-op (no sink call)
// when key is not tracked. The entry is dropped even if the cancel fails.
func (r *Registry) Remove(ctx context.Context, key string) (ActiveIsland, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok {
		return ActiveIsland{}, false, nil
	}
	ev := r.removeLocked(key)
	if err := r.cancel(ctx, ev.ID); err != nil {
		return ev, true, fmt.Errorf("cancel island %d: %w", ev.ID, err)
	}
	return ev, true, nil
}

func (r *Registry) removeLocked(key string) ActiveIsland {
	e := r.entries[key]
	delete(r.entries, key)
	cur, _ := r.epochs.Peek(key)
	r.epochs.Add(key, cur+1)
	return *e
}

func (r *Registry) post(ctx context.Context, id int32, p Payload) error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Post(ctx, id, p)
}

func (r *Registry) cancel(ctx context.Context, id int32) error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Cancel(ctx, id)
}
