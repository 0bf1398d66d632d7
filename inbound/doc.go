// Package inbound receives webhook deliveries signed by a webhooks.Dispatcher.
//
// Deliveries are claimed by delivery id before a handler runs. A handler
// failure releases the claim so the sender's retry is processed again.
package inbound
