// Package pipeline orchestrates document processing from OCR through series
// reporting.
//
// Two polling lanes share the store: the document lane walks each claimed
// document through the stage table (ocr, classify, score, summarize, file,
// series summary), re-persisting after every step; the file lane generates
// and regenerates artifact files on disk. Stage semaphores bound concurrent
// use of the OCR binary, the model API, and file generation across both
// lanes. Series-level work is serialized with database locks so multiple
// documents of one type cannot interleave prompt creation or report writes.
package pipeline
