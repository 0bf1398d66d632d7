package sqlstore

import (
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/webhooks"
)

var (
	_ oauth.ClientStore               = (*ClientStore)(nil)
	_ oauth.ClientLister              = (*ClientStore)(nil)
	_ oauth.ClientStore               = (*CachedClientStore)(nil)
	_ oauth.ClientLister              = (*CachedClientStore)(nil)
	_ webhooks.SubscriptionRepository = (*SubscriptionStore)(nil)
	_ core.KVStore                    = (*KVStore)(nil)
	_ core.Counter                    = (*KVStore)(nil)
)
