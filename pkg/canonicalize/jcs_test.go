package canonicalize

import (
	"strings"
	"testing"
)

func TestJCS_SortsKeys(t *testing.T) {
	input := map[string]any{"mpn": "LM358N", "manufacturer": "TI", "category": "amplifier"}
	got, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS: %v", err)
	}
	want := `{"category":"amplifier","manufacturer":"TI","mpn":"LM358N"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJCS_SortsNestedKeys(t *testing.T) {
	input := map[string]any{
		"parameters": map[string]any{"voltage": "32V", "channels": 2},
		"mpn":        "LM358N",
	}
	got, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS: %v", err)
	}
	want := `{"mpn":"LM358N","parameters":{"channels":2,"voltage":"32V"}}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	got, err := JCS(map[string]string{"datasheet_url": "https://example.com/ds?mpn=LM358&rev=2"})
	if err != nil {
		t.Fatalf("JCS: %v", err)
	}
	if !strings.Contains(string(got), `mpn=LM358&rev=2`) {
		t.Errorf("ampersand was HTML-escaped: %s", got)
	}
}

func TestJCS_HonorsStructTags(t *testing.T) {
	type component struct {
		MPN          string `json:"mpn"`
		Manufacturer string `json:"manufacturer"`
		Internal     string `json:"-"`
	}
	got, err := JCS(component{MPN: "NE555P", Manufacturer: "TI", Internal: "dropped"})
	if err != nil {
		t.Fatalf("JCS: %v", err)
	}
	want := `{"manufacturer":"TI","mpn":"NE555P"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalHash_StableAcrossKeyOrder(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	h2, err := CanonicalHash(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash differs across key order: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected sha256 hex digest, got %d chars", len(h1))
	}
}

func TestCanonicalHash_NilPayload(t *testing.T) {
	h, err := CanonicalHash(nil)
	if err != nil {
		t.Fatalf("CanonicalHash(nil): %v", err)
	}
	if h == "" {
		t.Error("expected a digest for the null document")
	}
}
