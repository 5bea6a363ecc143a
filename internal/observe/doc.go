// Package observe wires the engine's metrics hook to Prometheus.
package observe
