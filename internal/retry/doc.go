// Package retry wraps outbound HTTP calls to external services with
// exponential backoff and a shared classification of retryable failures.
package retry
