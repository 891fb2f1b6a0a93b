// Package llm implements the pipeline's model-backed operations: document
// classification, classification scoring, document and series summarization,
// and series-prompt drafting and scoring.
//
// Calls go through the aktagon/llmkit Anthropic client with structured
// output schemas where the payload is JSON. The completer is injectable so
// tests script responses without network access.
package llm
