// Package server implements the HTTP API for monitoring and managing
// meetings alongside the Prometheus metrics endpoint.
package server
