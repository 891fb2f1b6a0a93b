package doctype

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRegistryIsUsable(t *testing.T) {
	reg := Default()
	if len(reg.Names()) == 0 {
		t.Fatal("default registry is empty")
	}
	if _, ok := reg.Get("bank_statement"); !ok {
		t.Fatal("default registry missing bank_statement")
	}
	if _, ok := reg.Get(Unknown); !ok {
		t.Fatal("default registry missing the fallback type")
	}
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "doctypes.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := reg.Get("invoice"); !ok {
		t.Fatal("expected default registry")
	}
}

func TestLoadParsesRegistryFile(t *testing.T) {
	content := `
types:
  - name: utility_bill
    title: Utility Bill
    series: true
    series_type: "{doc_type}_{year}"
    hints: "Electricity, gas, and water bills."
    path_template: "{entity}/{doc_type}/{year}"
  - name: warranty
    title: Warranty
    series: false
`
	path := filepath.Join(t.TempDir(), "doctypes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	bill, ok := reg.Get("utility_bill")
	if !ok {
		t.Fatal("utility_bill not registered")
	}
	if !bill.Series {
		t.Fatal("utility_bill should form a series")
	}
	warranty, ok := reg.Get("warranty")
	if !ok {
		t.Fatal("warranty not registered")
	}
	if warranty.Series {
		t.Fatal("warranty should not form a series")
	}
	// The fallback type is always present even when the file omits it.
	if _, ok := reg.Get(Unknown); !ok {
		t.Fatal("fallback type missing")
	}
}

func TestLoadRejectsInvalidRegistries(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty", "types: []\n"},
		{"series without template", "types:\n  - name: a\n    series: true\n"},
		{"duplicate names", "types:\n  - name: a\n  - name: a\n"},
		{"garbage yaml", "types: {{{\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "doctypes.yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGetUnknownNameReturnsFallback(t *testing.T) {
	reg := Default()
	dt, ok := reg.Get("never_heard_of_it")
	if ok {
		t.Fatal("unexpected match")
	}
	if dt.Name != Unknown {
		t.Fatalf("fallback type = %q, want %q", dt.Name, Unknown)
	}
}

func TestResolveSeriesType(t *testing.T) {
	dt := DocType{Name: "bank_statement", Series: true, SeriesType: "{doc_type}_{year}"}
	if got := dt.ResolveSeriesType("2024-03-15"); got != "bank_statement_2024" {
		t.Fatalf("series type = %q", got)
	}
	if got := dt.ResolveSeriesType(""); got != "bank_statement_undated" {
		t.Fatalf("undated series type = %q", got)
	}
	flat := DocType{Name: "receipt"}
	if got := flat.ResolveSeriesType("2024"); got != "" {
		t.Fatalf("non-series type resolved to %q", got)
	}
}

func TestResolvePathSanitizesComponents(t *testing.T) {
	dt := DocType{Name: "invoice", PathTemplate: "{entity}/{doc_type}/{year}"}
	got := dt.ResolvePath("Jane Doe/../..", "2024-06-01")
	if strings.Contains(got, "..") {
		t.Fatalf("path %q contains traversal", got)
	}
	if !strings.HasSuffix(got, "/invoice/2024") {
		t.Fatalf("path = %q", got)
	}
}

func TestClassifierHintsListsAllTypes(t *testing.T) {
	reg := Default()
	hints := reg.ClassifierHints()
	for _, name := range reg.Names() {
		if !strings.Contains(hints, "- "+name) {
			t.Fatalf("hints missing %q:\n%s", name, hints)
		}
	}
}
