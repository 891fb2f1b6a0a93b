package doctype

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sirmick/alfrd-sub000/internal/textutil"
)

// Unknown is the fallback document type assigned when classification cannot
// match any registered type.
const Unknown = "other"

// DocType describes how one class of documents is filed.
type DocType struct {
	// Name is the canonical lowercase identifier (e.g. "bank_statement").
	Name string `yaml:"name"`
	// Title is the human-readable label shown in CLI output.
	Title string `yaml:"title"`
	// Series controls whether documents of this type are grouped into a
	// series. Types without a series skip series summarization entirely.
	Series bool `yaml:"series"`
	// SeriesType is a template for the series key, expanded per document.
	// Supported tokens: {doc_type}, {year}.
	SeriesType string `yaml:"series_type"`
	// Hints steers the classifier toward this type.
	Hints string `yaml:"hints"`
	// PathTemplate places filed output under the output directory.
	// Supported tokens: {entity}, {doc_type}, {year}, {date}.
	PathTemplate string `yaml:"path_template"`
}

type registryFile struct {
	Types []DocType `yaml:"types"`
}

// Registry is the read-only set of known document types.
type Registry struct {
	types map[string]DocType
	order []string
}

// Default returns the built-in registry used when no registry file exists.
func Default() *Registry {
	reg, err := build([]DocType{
		{Name: "bank_statement", Title: "Bank Statement", Series: true, SeriesType: "{doc_type}_{year}", Hints: "Periodic account statement from a bank or credit union with balances and transactions.", PathTemplate: "{entity}/{doc_type}/{year}"},
		{Name: "invoice", Title: "Invoice", Series: true, SeriesType: "{doc_type}_{year}", Hints: "A bill requesting payment, with line items, amounts due, and payment terms.", PathTemplate: "{entity}/{doc_type}/{year}"},
		{Name: "receipt", Title: "Receipt", Series: false, Hints: "Proof of a completed purchase or payment.", PathTemplate: "{entity}/{doc_type}/{year}"},
		{Name: "tax_notice", Title: "Tax Notice", Series: true, SeriesType: "{doc_type}_{year}", Hints: "Correspondence from a tax authority: assessments, demands, refunds.", PathTemplate: "{entity}/{doc_type}/{year}"},
		{Name: "insurance", Title: "Insurance Document", Series: true, SeriesType: "{doc_type}_{year}", Hints: "Policy schedules, renewal notices, and claims correspondence from insurers.", PathTemplate: "{entity}/{doc_type}/{year}"},
		{Name: "medical", Title: "Medical Record", Series: false, Hints: "Lab results, doctor letters, prescriptions, and treatment summaries.", PathTemplate: "{entity}/{doc_type}/{year}"},
		{Name: "contract", Title: "Contract", Series: false, Hints: "Signed agreements: leases, employment, service contracts.", PathTemplate: "{entity}/{doc_type}"},
		{Name: "payslip", Title: "Payslip", Series: true, SeriesType: "{doc_type}_{year}", Hints: "Salary statement from an employer with gross, net, and deductions.", PathTemplate: "{entity}/{doc_type}/{year}"},
		{Name: Unknown, Title: "Other", Series: false, Hints: "Anything that matches no other type.", PathTemplate: "{entity}/{doc_type}"},
	})
	if err != nil {
		// The built-in set is validated by tests.
		panic(err)
	}
	return reg
}

// Load reads the registry from a YAML file. A missing file yields the
// built-in default registry.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read doctype registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse doctype registry: %w", err)
	}
	if len(file.Types) == 0 {
		return nil, fmt.Errorf("doctype registry %q defines no types", path)
	}
	return build(file.Types)
}

func build(types []DocType) (*Registry, error) {
	reg := &Registry{types: make(map[string]DocType, len(types))}
	for i, dt := range types {
		name := textutil.SanitizeToken(dt.Name)
		if name == "unknown" && strings.TrimSpace(dt.Name) == "" {
			return nil, fmt.Errorf("doctype %d: name is required", i)
		}
		if _, dup := reg.types[name]; dup {
			return nil, fmt.Errorf("doctype %q: duplicate name", name)
		}
		if dt.Series && strings.TrimSpace(dt.SeriesType) == "" {
			return nil, fmt.Errorf("doctype %q: series types need a series_type template", name)
		}
		if strings.TrimSpace(dt.PathTemplate) == "" {
			dt.PathTemplate = "{entity}/{doc_type}"
		}
		if strings.TrimSpace(dt.Title) == "" {
			dt.Title = name
		}
		dt.Name = name
		reg.types[name] = dt
		reg.order = append(reg.order, name)
	}
	if _, ok := reg.types[Unknown]; !ok {
		fallback := DocType{Name: Unknown, Title: "Other", Hints: "Anything that matches no other type.", PathTemplate: "{entity}/{doc_type}"}
		reg.types[Unknown] = fallback
		reg.order = append(reg.order, Unknown)
	}
	return reg, nil
}

// Get returns the registered type. The boolean reports whether the name was
// known; unknown names return the fallback type.
func (r *Registry) Get(name string) (DocType, bool) {
	dt, ok := r.types[textutil.SanitizeToken(name)]
	if !ok {
		return r.types[Unknown], false
	}
	return dt, true
}

// Names returns the registered type names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ClassifierHints renders the registry as prompt guidance for the classifier,
// one line per type, in a stable order.
func (r *Registry) ClassifierHints() string {
	names := r.Names()
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		dt := r.types[name]
		b.WriteString("- ")
		b.WriteString(dt.Name)
		if dt.Hints != "" {
			b.WriteString(": ")
			b.WriteString(dt.Hints)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ResolveSeriesType expands the series key template for a document year.
// Returns "" for types that do not form a series.
func (dt DocType) ResolveSeriesType(year string) string {
	if !dt.Series {
		return ""
	}
	return expand(dt.SeriesType, map[string]string{
		"doc_type": dt.Name,
		"year":     sanitizeYear(year),
	})
}

// ResolvePath expands the output path template. All components pass through
// token sanitization so classification output cannot escape the output tree.
func (dt DocType) ResolvePath(entity, docDate string) string {
	return expand(dt.PathTemplate, map[string]string{
		"entity":   textutil.SanitizeToken(entity),
		"doc_type": dt.Name,
		"year":     sanitizeYear(docDate),
		"date":     textutil.SanitizeToken(docDate),
	})
}

func expand(template string, tokens map[string]string) string {
	out := template
	for token, value := range tokens {
		out = strings.ReplaceAll(out, "{"+token+"}", value)
	}
	return strings.Trim(out, "/")
}

// sanitizeYear extracts a four-digit year from a date string, falling back to
// "undated" when none is present.
func sanitizeYear(date string) string {
	date = strings.TrimSpace(date)
	for i := 0; i+4 <= len(date); i++ {
		if isDigits(date[i : i+4]) {
			return date[i : i+4]
		}
	}
	return "undated"
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
