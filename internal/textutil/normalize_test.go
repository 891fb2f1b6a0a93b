package textutil

import "testing"

func TestNormalizeTextLineEndings(t *testing.T) {
	got := NormalizeText("first\r\nsecond\rthird")
	if got != "first\nsecond\nthird" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeTextCollapsesBlankRuns(t *testing.T) {
	got := NormalizeText("a\n\n\n\n\nb")
	if got != "a\n\nb" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeTextStripsControlCharacters(t *testing.T) {
	got := NormalizeText("page\x0cbreak\x00 done\t.")
	if got != "pagebreak done\t." {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeTextComposesUnicode(t *testing.T) {
	// "e" followed by a combining acute accent composes to a single rune.
	got := NormalizeText("café")
	if got != "caf\u00e9" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeTextTrimsTrailingWhitespace(t *testing.T) {
	got := NormalizeText("line one   \nline two\t\n")
	if got != "line one\nline two" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeToken(t *testing.T) {
	cases := map[string]string{
		"Jane Doe":       "jane_doe",
		"ACME GmbH & Co": "acme_gmbh___co",
		"":               "unknown",
		"--_--":          "unknown",
		"Bank-2024":      "bank-2024",
	}
	for input, want := range cases {
		if got := SanitizeToken(input); got != want {
			t.Fatalf("SanitizeToken(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := SanitizeFileName(`state:ment/2024*final?.pdf`); got != "state-ment-2024-final.pdf" {
		t.Fatalf("got %q", got)
	}
}
