// Package services defines the shared error taxonomy and context decoration
// used by pipeline stages and service clients.
//
// Stage code wraps failures with services.Wrap so the orchestrator can record
// an operator-facing hint and decide whether recovery should retry the work.
// Context helpers thread document, stage, lane, and correlation identifiers
// through the call tree for structured logging.
package services
