// Package metrics defines the Prometheus collectors exported by the scribe.
package metrics
