// Package ocr extracts plain text from inbox documents.
//
// PDFs are validated and page-counted with pdfcpu, then extracted by the
// external pdftotext binary. HTML is converted to markdown; plain text and
// markdown files are read as-is. All output passes through unicode and
// whitespace normalization before persistence.
package ocr
