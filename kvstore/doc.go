// Package kvstore provides TTL key-value backends for core.KVStore and
// core.Counter: an in-process map for tests and single-node deployments, and a
// redis backend for shared state across instances.
package kvstore
