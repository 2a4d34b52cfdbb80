// Package layers provides the standard anystore layers.
//
// Each layer wraps an accessor and returns another accessor honoring the same
// contract. Streaming handles are wrapped as well, so behavior applies for the
// whole lifetime of a Reader, Writer or Pager and not only to the call that
// opened it.
//
// # Layers
//
//   - Retry: exponential backoff with jitter for retryable errors
//   - ConcurrentLimit: bounds in-flight operations with a weighted semaphore
//   - Timeout: per-call deadlines and a per-read IO deadline
//   - ReadOnly: removes mutating operations from the capability
//   - Logging: slog records per operation
//   - Metrics: prometheus counters and histograms
//   - Tracing: OpenTelemetry spans
//
// # Ordering
//
// Layers apply in stack order, the last one seeing calls first:
//
//	op := anystore.NewOperator(backend,
//	    layers.NewTimeout(30*time.Second, 0),
//	    layers.NewRetry(layers.RetryConfig{MaxAttempts: 5}),
//	    layers.NewConcurrentLimit(16, time.Second),
//	    layers.NewLogging(nil),
//	)
//
// Here each retry attempt gets its own deadline, and all attempts of one call
// share a single concurrency permit.
package layers
