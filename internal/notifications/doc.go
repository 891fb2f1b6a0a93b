// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set.
// Per-category toggles (documents, series, errors) let operators mute noisy
// event classes without disabling daemon lifecycle notices.
//
// Extend this package if you need alternative transports; all pipeline code
// depends only on the Service interface.
package notifications
