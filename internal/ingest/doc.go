// Package ingest registers inbox documents with the pipeline.
//
// Each scan fingerprints candidate files (sha256, hashed in parallel),
// skips content the store has already seen, copies the original into the
// archive tree with integrity verification, and inserts a pending document
// row. The inbox file is removed once its archive copy is verified.
package ingest
