package llm

// classificationPrompt instructs the model to classify a document into one of
// the registered types and pull out filing metadata. The registry's type
// hints are appended per call.
const classificationPrompt = `You classify scanned household documents.

Given the extracted text of one document, identify:
- doc_type: the best matching type from the list below, or "other"
- entity: the person or household member the document belongs to
- correspondent: the organization that issued the document
- doc_date: the document's own date in YYYY-MM-DD (empty if absent)
- title: a short human-readable title (max 80 characters)
- confidence: your confidence in doc_type, 0.0 to 1.0
- reason: one sentence explaining the choice

Use only information present in the text. Respond with JSON only.

Known document types:
`

const classificationSchema = `{
  "type": "object",
  "properties": {
    "doc_type": {"type": "string"},
    "entity": {"type": "string"},
    "correspondent": {"type": "string"},
    "doc_date": {"type": "string"},
    "title": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"}
  },
  "required": ["doc_type", "entity", "correspondent", "doc_date", "title", "confidence", "reason"],
  "additionalProperties": false
}`

// scoringPrompt asks the model to judge a classification against the source
// text. This is a second opinion by design; the scorer never sees the
// classifier's stated confidence.
const scoringPrompt = `You audit document classifications.

Given a document's extracted text and a proposed classification, judge how
well the classification fits the text. Consider the document type, the
entity, the correspondent, and the date. Respond with JSON only:
- score: 0.0 (clearly wrong) to 1.0 (clearly correct)
- reason: one sentence`

const scoreSchema = `{
  "type": "object",
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"}
  },
  "required": ["score", "reason"],
  "additionalProperties": false
}`

// summaryPrompt produces the per-document markdown summary.
const summaryPrompt = `You summarize household documents for a personal archive.

Write a concise markdown summary of the document below. Include the key
facts someone would want without rereading the original: amounts, dates,
deadlines, reference numbers, and required actions. Use at most 200 words.
Start with a level-2 heading naming the document. Output markdown only, no
preamble.`

// seriesDraftPrompt creates the first report prompt for a new series.
const seriesDraftPrompt = `You design report-writing prompts.

Given sample document summaries from one series of related household
documents, write a reusable instruction prompt for generating a yearly
report over all documents in the series. The prompt you write should tell a
model what structure to use, which figures to aggregate, and what trends to
call out. Output only the prompt text, no preamble.`

// seriesReportScorePrompt judges a generated series report against the
// prompt that produced it.
const seriesReportScorePrompt = `You evaluate generated reports.

Given the instruction prompt and the report generated from it, judge how
well the report fulfills the prompt: structure, coverage, and usefulness of
aggregation. Respond with JSON only:
- score: 0.0 (useless) to 1.0 (excellent)
- reason: one sentence`
