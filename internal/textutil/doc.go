// Package textutil provides text processing utilities for normalization and
// filename sanitization.
//
// The primary use cases are:
//   - Canonicalizing extracted document text (unicode composition, line
//     endings, whitespace)
//   - Sanitizing filenames and path segments for safe filesystem use
package textutil
