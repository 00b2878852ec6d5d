// Package lock implements a distributed mutual-exclusion primitive on
// top of the cache: set-if-absent with a TTL to acquire, token-checked
// delete to release. WithLock wraps a critical section with guaranteed
// release, and Fence hands out monotonic tokens for callers that need
// protection beyond what the TTL alone can give.
package lock
