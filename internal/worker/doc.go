// Package worker provides the bounded polling pool that drives pipeline
// lanes. Each pool fetches ready work on an interval, dispatches items to
// concurrent handlers under a semaphore, and tracks in-flight IDs so a slow
// item is never picked up twice.
package worker
