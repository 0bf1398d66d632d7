// Package webhooks delivers signed event notifications to subscriber
// endpoints and tracks subscriber health.
//
// Every body is an envelope {event, data, timestamp, delivery_id} signed with
// HMAC-SHA256 under the subscription secret. Delivery retries a bounded
// number of times with 4^attempt second backoff. Subscription status follows
// active <-> failing -> inactive, driven by consecutive failures; inactive
// subscriptions receive nothing until reactivated.
package webhooks
