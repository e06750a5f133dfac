// Package resilience groups the fault-tolerance building blocks shared by
// feed polling and delivery:
//
//   - faults: the transport error taxonomy and classification
//   - backoff: per-kind retry delays
//   - retry: retry loops driven by backoff
//   - ratelimit: per-source admission control
//   - circuitbreaker: per-source breakers and the database breaker
//   - recovery: recovery gating for half-open sources
//
// Each component is an explicit instance; nothing here keeps package state.
package resilience
