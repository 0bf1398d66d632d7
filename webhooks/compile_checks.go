package webhooks

import "net/http"

var (
	_ SubscriptionRepository = (*MemorySubscriptionRepository)(nil)
	_ RetryPolicy            = PowerBackoff{}
	_ HTTPDoer               = (*http.Client)(nil)
)
