// Package fanout delivers transcript updates to independent consumers. Each
// subscriber owns a bounded queue, so a slow consumer loses its own updates
// instead of stalling capture or the other consumers.
package fanout
