package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KVStore is the TTL key-value contract the oauth code/token stores and the
// sliding window limiter persist into. Get reports a missing or expired key
// with ok=false and a nil error; err is reserved for backend failures.
type KVStore interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Counter is an atomic increment-with-expiry primitive. The ttl is applied
// only when the increment creates the key.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (count int64, err error)
}

// CounterStore combines KVStore and Counter, as implemented by the memory
// and redis backends.
type CounterStore interface {
	KVStore
	Counter
}
