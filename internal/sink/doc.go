// Package sink delivers island posts and cancels to the system UI.
//
// JSONL is the concrete sink: one JSON record per operation, each tagged with
// a unique delivery id. Dispatcher decouples the engine from sink latency with
// a bounded queue, a token-bucket rate limit and retries.
package sink
