package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"hyperbridge/internal/island"
)

// Record is one line written by JSONL.
type Record struct {
	DeliveryID string           `json:"delivery_id"`
	At         time.Time        `json:"at"`
	Op         string           `json:"op"`
	ID         int32            `json:"id"`
	Pictures   []island.Picture `json:"pictures,omitempty"`
	Actions    []island.Action  `json:"actions,omitempty"`
	Param      json.RawMessage  `json:"param,omitempty"`
}

// JSONL writes every post and cancel as one JSON line. The system-UI side
// tails the stream and applies it.
type JSONL struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	now func() time.Time
}

var _ island.Sink = (*JSONL)(nil)

func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w, now: time.Now}
}

// OpenJSONL appends to path, creating it if needed. "-" writes to stdout.
func OpenJSONL(path string) (*JSONL, error) {
	if path == "" || path == "-" {
		return NewJSONL(os.Stdout), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", path, err)
	}
	s := NewJSONL(f)
	s.c = f
	return s, nil
}

func (s *JSONL) Post(ctx context.Context, id int32, p island.Payload) error {
	return s.write(ctx, Record{Op: "post", ID: id, Pictures: p.Pictures, Actions: p.Actions, Param: json.RawMessage(p.Param)})
}

func (s *JSONL) Cancel(ctx context.Context, id int32) error {
	return s.write(ctx, Record{Op: "cancel", ID: id})
}

func (s *JSONL) write(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.DeliveryID = uuid.NewString()
	r.At = s.now().UTC()
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", r.Op, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write %s record: %w", r.Op, err)
	}
	return nil
}

func (s *JSONL) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
