// Package ratelimit implements admission control over core.KVStore.
//
// SlidingWindowLimiter keeps a list of request timestamps per resource key and
// identifier. Its read-prune-append-write sequence is not atomic, so under
// concurrent load it is a soft limit: callers may see brief over-admission.
// Store failures are fail-open. FixedWindowCounter is the strict alternative,
// built on the atomic core.Counter primitive.
package ratelimit
