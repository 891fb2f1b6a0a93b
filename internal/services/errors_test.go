package services

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapCarriesMarkerAndDetail(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(ErrExternalTool, "summarize", "call model", "request failed", base)
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected marker to survive wrapping: %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected cause to survive wrapping: %v", err)
	}
	for _, want := range []string{"summarize", "call model", "request failed"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "ocr", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("nil marker should default to transient: %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Wrap(ErrTransient, "ocr", "", "", nil), true},
		{Wrap(ErrExternalTool, "classify", "", "", nil), true},
		{Wrap(ErrTimeout, "summarize", "", "", nil), true},
		{Wrap(ErrValidation, "classify", "", "bad payload", nil), false},
		{Wrap(ErrConfiguration, "llm", "", "missing key", nil), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestFailureHintIsStable(t *testing.T) {
	if hint := FailureHint(Wrap(ErrValidation, "classify", "", "", nil)); !strings.Contains(hint, "fix the document") {
		t.Fatalf("unexpected validation hint %q", hint)
	}
	if hint := FailureHint(errors.New("boom")); !strings.Contains(hint, "transient") {
		t.Fatalf("unexpected default hint %q", hint)
	}
}

func TestContextRoundTrips(t *testing.T) {
	ctx := WithDocumentID(t.Context(), 42)
	ctx = WithStage(ctx, "classify")
	ctx = WithLane(ctx, "documents")
	ctx = WithRequestID(ctx, "req-1")

	if id, ok := DocumentIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("document id = %d, %v", id, ok)
	}
	if stage, ok := StageFromContext(ctx); !ok || stage != "classify" {
		t.Fatalf("stage = %q, %v", stage, ok)
	}
	if lane, ok := LaneFromContext(ctx); !ok || lane != "documents" {
		t.Fatalf("lane = %q, %v", lane, ok)
	}
	if rid, ok := RequestIDFromContext(ctx); !ok || rid != "req-1" {
		t.Fatalf("request id = %q, %v", rid, ok)
	}
}
