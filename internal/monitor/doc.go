// Package monitor provides the business boundary for Scout's topic monitoring
// engine. It defines the Normalizer (raw result -> Finding identity), the
// Scorer (weighted importance signals), the Policy engine (threshold, tiers,
// rate caps), the Store interface (durable seen-set and counters), and the
// Service that drives one monitoring cycle across all topics.
package monitor
