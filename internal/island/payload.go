package island

import (
	"context"
	"hash/fnv"
)

// Picture is a named visual resource registered with a payload.
type Picture struct {
	Key string `json:"key"`
	// Source identifies where the sink loads the image from
	// (e.g. "app:<package>", "action:<key>", "transparent").
	Source string `json:"source"`
}

// Payload is a fully translated island: the resource bundle plus the
// serialized parameter blob understood by the sink.
type Payload struct {
	Pictures []Picture `json:"pictures"`
	Actions  []Action  `json:"actions,omitempty"`
	Param    string    `json:"param"`
}

// Sink displays and cancels islands.
type Sink interface {
	Post(ctx context.Context, id int32, p Payload) error
	Cancel(ctx context.Context, id int32) error
}

// Fingerprint hashes a serialized param. Empty input returns 0.
func Fingerprint(param string) uint64 {
	if param == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(param))
	return h.Sum64()
}

// StableID derives the sink id for a tracked key. The same key always maps to
// the same id so updates replace the displayed island instead of stacking.
func StableID(key string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int32(h.Sum32() & 0x7fffffff)
}
