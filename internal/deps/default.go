package deps

import "github.com/sirmick/alfrd-sub000/internal/config"

// Default returns the external binaries the daemon needs at runtime.
// pdftotext is the only hard dependency; HTML, markdown, and plain text
// extraction run in-process.
func Default(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "pdftotext",
			Command:     cfg.PdftotextBinary(),
			Description: "Extracts text from PDF documents (poppler-utils)",
		},
	}
}

// MissingRequired filters statuses down to unavailable hard requirements.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Optional && !status.Available {
			missing = append(missing, status)
		}
	}
	return missing
}
