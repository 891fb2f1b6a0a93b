// Package recovery reclaims work orphaned by crashes and restarts.
//
// The sweeper runs eagerly at daemon startup and then on an interval. It
// rolls stale in-flight documents and files back to their last resumable
// checkpoint, reschedules failed documents whose backoff window has elapsed,
// and retires documents that exhausted their retry budget.
package recovery
