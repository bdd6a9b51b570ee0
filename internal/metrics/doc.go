// Package metrics provides Prometheus metrics for the chorus client.
package metrics
