package kvstore

import "github.com/goliatone/go-integrations/core"

var (
	_ core.CounterStore = (*MemoryStore)(nil)
	_ core.CounterStore = (*RedisStore)(nil)
)
