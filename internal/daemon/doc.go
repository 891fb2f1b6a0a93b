// Package daemon ties the background services together: the recovery
// sweeper, the inbox scanner, and the processing pipeline. A file lock keeps
// the daemon single-instance; shutdown drains in-flight work before the
// store closes.
package daemon
