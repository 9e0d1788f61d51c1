// Package metrics exposes cover and bus counters in the Prometheus format.
//
// Collectors live on a private registry so tests can build as many
// instances as they like. The HTTP API mounts Handler at the configured
// metrics path.
package metrics
