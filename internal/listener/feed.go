// Package listener feeds notification events into the engine. Events arrive
// as NDJSON on a stream (stdin) or on unix socket connections and are routed
// by key hash onto serial shard workers, so events for one key are handled in
// arrival order while different keys proceed in parallel.
package listener

import (
	"encoding/json"
	"fmt"
	"strings"

	"hyperbridge/internal/island"
)

// Op is the kind of feed message.
type Op string

const (
	OpPosted    Op = "posted"
	OpRemoved   Op = "removed"
	OpConnected Op = "connected"
)

// Message is one feed line.
type Message struct {
	Op    Op            `json:"op"`
	Event *island.Event `json:"event,omitempty"`
	Key   string        `json:"key,omitempty"`
}

// key is the routing key of m.
func (m Message) key() string {
	if m.Op == OpPosted && m.Event != nil {
		return m.Event.Key
	}
	return m.Key
}

// Decode parses one feed line. Unknown fields are ignored and missing fields
// decode to zero values; only unparseable JSON or an unknown op is an error.
func Decode(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("decode feed line: %w", err)
	}
	m.Op = Op(strings.ToLower(strings.TrimSpace(string(m.Op))))
	switch m.Op {
	case OpPosted:
		if m.Event == nil {
			m.Event = &island.Event{}
		}
	case OpRemoved, OpConnected:
	default:
		return Message{}, fmt.Errorf("unknown feed op %q", m.Op)
	}
	return m, nil
}
