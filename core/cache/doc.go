// Package cache provides the shared atomic counter store backed by redis.
//
// It is the foundation the distributed lock, the stock counters, the
// per-segment availability hash and the active-segment pointer are all
// built on. Every operation that reads and then writes cache state is
// expressed as a single Lua script, so the check-and-decrement style
// mutations are atomic server-side and never leave a counter reflecting
// a partial decrement.
//
// An unreachable cache surfaces as ErrUnavailable; no operation keeps
// speculative local state across a failed round-trip.
package cache
