// Package island holds the island domain model and the registry of displayed
// islands.
//
// # Registry
//
// Registry maps a tracked notification key to the island currently shown for
// it. It enforces the capacity limit (DefaultMaxIslands), applies the eviction
// policy selected by LimitMode, and suppresses posts whose rendered param is
// byte-identical to the last one posted for the same key.
//
// Sink ids are derived from the key (StableID), so repeated posts for one key
// update a single overlay.
//
// # Appearance
//
// Config fields are optional; Resolve merges app over global over the
// built-in defaults (float on, shade on, 5s timeout).
package island
