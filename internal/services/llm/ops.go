package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirmick/alfrd-sub000/internal/services"
)

// Classification is the structured result of the classify stage.
type Classification struct {
	DocType       string  `json:"doc_type"`
	Entity        string  `json:"entity"`
	Correspondent string  `json:"correspondent"`
	DocDate       string  `json:"doc_date"`
	Title         string  `json:"title"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

// JSON renders the classification as the canonical payload persisted on the
// document row.
func (c Classification) JSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode classification: %w", err)
	}
	return string(data), nil
}

// ParseClassification decodes a persisted classification payload.
func ParseClassification(payload string) (Classification, error) {
	var c Classification
	if err := DecodeLLMJSON(payload, &c); err != nil {
		return Classification{}, err
	}
	return c, nil
}

type scorePayload struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// ClassifyDocument classifies extracted document text. typeHints lists the
// registered document types, one per line.
func (c *Client) ClassifyDocument(ctx context.Context, text, typeHints string) (Classification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Classification{}, services.Wrap(services.ErrValidation, stage, "classify",
			"document text is empty", nil)
	}

	var parsed Classification
	system := classificationPrompt + typeHints
	if err := c.completeDecoded(ctx, "classify", system, text, classificationSchema, &parsed); err != nil {
		return Classification{}, err
	}

	parsed.DocType = strings.ToLower(strings.TrimSpace(parsed.DocType))
	parsed.Entity = strings.TrimSpace(parsed.Entity)
	parsed.Correspondent = strings.TrimSpace(parsed.Correspondent)
	parsed.DocDate = strings.TrimSpace(parsed.DocDate)
	parsed.Title = strings.TrimSpace(parsed.Title)
	parsed.Reason = strings.TrimSpace(parsed.Reason)
	parsed.Confidence = clampScore(parsed.Confidence)
	if parsed.DocType == "" {
		return Classification{}, services.Wrap(services.ErrValidation, stage, "classify",
			"model returned an empty doc_type", nil)
	}
	return parsed, nil
}

// ScoreClassification judges a classification against the source text and
// returns a confidence in [0, 1].
func (c *Client) ScoreClassification(ctx context.Context, text, classificationJSON string) (float64, error) {
	user := fmt.Sprintf("Document text:\n%s\n\nProposed classification:\n%s", text, classificationJSON)
	var parsed scorePayload
	if err := c.completeDecoded(ctx, "score classification", scoringPrompt, user, scoreSchema, &parsed); err != nil {
		return 0, err
	}
	return clampScore(parsed.Score), nil
}

// SummarizeDocument produces the per-document markdown summary.
func (c *Client) SummarizeDocument(ctx context.Context, text, classificationJSON string) (string, error) {
	user := fmt.Sprintf("Classification:\n%s\n\nDocument text:\n%s", classificationJSON, text)
	return c.completeText(ctx, "summarize document", summaryPrompt, user)
}

// SummarizeSeries generates a series report from document summaries using
// the series' active prompt as the instruction.
func (c *Client) SummarizeSeries(ctx context.Context, promptBody, seriesTitle string, summaries []string) (string, error) {
	promptBody = strings.TrimSpace(promptBody)
	if promptBody == "" {
		return "", services.Wrap(services.ErrValidation, stage, "summarize series",
			"series has no active prompt", nil)
	}
	if len(summaries) == 0 {
		return "", services.Wrap(services.ErrValidation, stage, "summarize series",
			"series has no document summaries", nil)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Series: %s\n\nDocument summaries:\n\n", seriesTitle)
	for i, summary := range summaries {
		fmt.Fprintf(&user, "--- document %d ---\n%s\n\n", i+1, summary)
	}
	return c.completeText(ctx, "summarize series", promptBody, user.String())
}

// DraftSeriesPrompt writes the first report prompt for a new series from
// sample document summaries.
func (c *Client) DraftSeriesPrompt(ctx context.Context, seriesTitle string, summaries []string) (string, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Series: %s\n\nSample summaries:\n\n", seriesTitle)
	for i, summary := range summaries {
		fmt.Fprintf(&user, "--- document %d ---\n%s\n\n", i+1, summary)
	}
	return c.completeText(ctx, "draft series prompt", seriesDraftPrompt, user.String())
}

// ScoreSeriesReport judges a generated series report against the prompt that
// produced it.
func (c *Client) ScoreSeriesReport(ctx context.Context, promptBody, report string) (float64, error) {
	user := fmt.Sprintf("Instruction prompt:\n%s\n\nGenerated report:\n%s", promptBody, report)
	var parsed scorePayload
	if err := c.completeDecoded(ctx, "score series report", seriesReportScorePrompt, user, scoreSchema, &parsed); err != nil {
		return 0, err
	}
	return clampScore(parsed.Score), nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
