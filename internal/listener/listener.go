package listener

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"hyperbridge/internal/bridge"
	"hyperbridge/internal/island"
	"hyperbridge/pkg/logx"
)

var (
	ErrClosed      = errors.New("listener closed")
	ErrNoEvent     = errors.New("posted message without event")
	ErrLineTooLong = errors.New("feed line too long")
)

const maxLine = 1 << 20

// Handler is the engine surface the listener drives.
type Handler interface {
	OnConnected(ctx context.Context)
	OnPosted(ctx context.Context, ev island.Event) bridge.Decision
	OnRemoved(ctx context.Context, key string) bool
}

type Config struct {
	Shards    int
	QueueSize int
}

type Listener struct {
	h   Handler
	log logx.Logger

	mu     sync.RWMutex
	closed bool
	queues []chan Message
	wg     sync.WaitGroup
}

// New starts the shard workers. They run until Close.
func New(ctx context.Context, h Handler, cfg Config, log logx.Logger) *Listener {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Listener{h: h, log: log.With(logx.String("comp", "listener")), queues: make([]chan Message, cfg.Shards)}
	for i := range l.queues {
		q := make(chan Message, cfg.QueueSize)
		l.queues[i] = q
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for m := range q {
				l.handle(ctx, m)
			}
		}()
	}
	return l
}

// Dispatch routes m to its shard, blocking while the shard is full.
// Connected messages are handled inline.
func (l *Listener) Dispatch(ctx context.Context, m Message) error {
	switch {
	case m.Op == OpConnected:
		l.h.OnConnected(ctx)
		return nil
	case m.Op == OpPosted && m.Event == nil:
		return ErrNoEvent
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	q := l.queues[shard(m.key(), len(l.queues))]
	select {
	case q <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake and waits for queued messages to be handled.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, q := range l.queues {
		close(q)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

// Serve reads NDJSON from r until EOF or ctx ends. Bad lines, including
// lines over maxLine bytes, are logged and skipped.
func (l *Listener) Serve(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	lines := 0
	for {
		raw, tooLong, err := readLine(br, buf[:0], maxLine)
		buf = raw[:0]
		if err == nil || len(raw) > 0 || tooLong {
			lines++
		}
		switch {
		case tooLong:
			l.log.Warn("skipping feed line", logx.Int("line", lines), logx.Err(ErrLineTooLong))
		case len(raw) > 0:
			m, derr := Decode(raw)
			if derr != nil {
				l.log.Warn("skipping feed line", logx.Int("line", lines), logx.Err(derr))
				break
			}
			if derr := l.Dispatch(ctx, m); derr != nil {
				return derr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ctx.Err()
			}
			return err
		}
	}
}

// readLine reads one line into buf without its line ending. A line longer
// than limit is consumed to its end and reported as tooLong.
func readLine(br *bufio.Reader, buf []byte, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > limit+1 {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(buf, "\r\n"), tooLong, rerr
	}
}

// ServeUnix accepts feed connections on a unix socket at path until ctx
// ends. Each connection is served concurrently; per-key ordering holds
// within a connection.
func (l *Listener) ServeUnix(ctx context.Context, path string) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	l.log.Info("feed socket listening", logx.String("path", path))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			g.Go(func() error {
				defer conn.Close()
				stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
				defer stop()
				if err := l.Serve(gctx, conn); err != nil && gctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
					l.log.Warn("feed connection ended", logx.Err(err))
				}
				return nil
			})
		}
	})
	err = g.Wait()
	_ = os.Remove(path)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *Listener) handle(ctx context.Context, m Message) {
	switch m.Op {
	case OpPosted:
		d := l.h.OnPosted(ctx, *m.Event)
		if d.Dropped == "" {
			l.log.Debug("event handled", logx.String("key", m.Event.Key), logx.String("type", d.Type.String()), logx.String("outcome", d.Outcome.String()))
		}
	case OpRemoved:
		l.h.OnRemoved(ctx, m.Key)
	}
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
