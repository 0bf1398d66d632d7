// Package core holds the shared contracts for the integrations trust and
// delivery layer: configuration, error envelopes, clocks, randomness, and the
// TTL key-value store the oauth and ratelimit packages persist into. Feature
// packages depend on core; core depends on no feature package.
package core
