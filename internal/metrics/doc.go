// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Poll job runs, failures and latencies
//   - Intent transitions and in-flight intents
//   - Chain head and derived game state
package metrics
