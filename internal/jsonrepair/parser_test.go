package jsonrepair

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseVerbatim(t *testing.T) {
	res := Parse(`{"name": "Coffee Finder", "stages": [1, 2, 3]}`)
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	if res.WasRepaired {
		t.Error("verbatim JSON should not be marked repaired")
	}
	obj, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", res.Data)
	}
	if obj["name"] != "Coffee Finder" {
		t.Errorf("name = %v", obj["name"])
	}
}

func TestParseFencedRoundTrip(t *testing.T) {
	original := map[string]any{
		"personas": []any{
			map[string]any{"name": "Ana", "age": float64(34)},
			map[string]any{"name": "Bo", "age": float64(61)},
		},
		"count": float64(2),
	}
	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	for _, fence := range []string{
		"Here you go:\n```json\n" + string(raw) + "\n```\nDone.",
		"```\n" + string(raw) + "\n```",
	} {
		res := Parse(fence)
		if !res.Success {
			t.Fatalf("Parse(%q) failed: %s", fence[:20], res.Err)
		}
		if res.WasRepaired {
			t.Error("well-formed fenced JSON should not be marked repaired")
		}
		if diff := cmp.Diff(original, res.Data); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestParseTrailingComma(t *testing.T) {
	res := Parse(`{"features": ["search", "map",], "done": true,}`)
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	if !res.WasRepaired {
		t.Error("trailing-comma input should be marked repaired")
	}
	want := map[string]any{
		"features": []any{"search", "map"},
		"done":     true,
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmbeddedObject(t *testing.T) {
	res := Parse(`Sure! The persona is {"name": "Ana", "role": "commuter"} as requested.`)
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	obj := res.Data.(map[string]any)
	if obj["role"] != "commuter" {
		t.Errorf("role = %v", obj["role"])
	}
}

func TestParseArrayFallback(t *testing.T) {
	res := Parse(`The list: [1, 2, 3] should work`)
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	if diff := cmp.Diff([]any{float64(1), float64(2), float64(3)}, res.Data); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSingleQuotes(t *testing.T) {
	res := Parse(`{'name': 'Ana', 'rating': 8}`)
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	if !res.WasRepaired {
		t.Error("single-quoted input should be marked repaired")
	}
	obj := res.Data.(map[string]any)
	if obj["name"] != "Ana" {
		t.Errorf("name = %v", obj["name"])
	}
}

func TestParseSingleQuotedArrayStaysAnArray(t *testing.T) {
	// Repairing must happen on the whole payload first; narrowing to the
	// first balanced object would drop every element after the first.
	res := Parse(`[{'id': 'p1', 'name': 'Ana'}, {'id': 'p2', 'name': 'Ben'}]`)
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	if !res.WasRepaired {
		t.Error("single-quoted input should be marked repaired")
	}
	list, ok := res.Data.([]any)
	if !ok {
		t.Fatalf("expected array, got %T", res.Data)
	}
	if len(list) != 2 {
		t.Fatalf("array length = %d, want 2", len(list))
	}
	if second := list[1].(map[string]any); second["name"] != "Ben" {
		t.Errorf("second element = %v", second)
	}
}

func TestParseSingleQuotesMixedLeftAlone(t *testing.T) {
	// Apostrophes inside double-quoted strings must not be treated as
	// delimiters.
	res := Parse(`{"summary": "Ana's favourite screen"}`)
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	obj := res.Data.(map[string]any)
	if obj["summary"] != "Ana's favourite screen" {
		t.Errorf("summary = %v", obj["summary"])
	}
}

func TestParseNewlineInString(t *testing.T) {
	res := Parse("{\"summary\": \"line one\nline two\"}")
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	if !res.WasRepaired {
		t.Error("raw newline in string should be marked repaired")
	}
	obj := res.Data.(map[string]any)
	if obj["summary"] != "line one\nline two" {
		t.Errorf("summary = %q", obj["summary"])
	}
}

func TestParseControlChars(t *testing.T) {
	res := Parse("{\"name\": \"Ana\x00\x07\"}")
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	obj := res.Data.(map[string]any)
	if obj["name"] != "Ana" {
		t.Errorf("name = %q", obj["name"])
	}
}

func TestParseFailureNeverPanics(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"no json here at all",
		"{unclosed",
		"```json\n{broken\n```",
	} {
		res := Parse(input)
		if res.Success {
			t.Errorf("Parse(%q) unexpectedly succeeded: %v", input, res.Data)
		}
		if res.Err == "" {
			t.Errorf("Parse(%q) failure carries no diagnostic", input)
		}
	}
}

func TestParseInto(t *testing.T) {
	type ratings struct {
		Persona string `json:"persona"`
		Rating  int    `json:"rating"`
	}
	var r ratings
	repaired, err := ParseInto("```json\n{\"persona\": \"Ana\", \"rating\": 7,}\n```", &r)
	if err != nil {
		t.Fatal(err)
	}
	if !repaired {
		t.Error("expected repair")
	}
	if r.Persona != "Ana" || r.Rating != 7 {
		t.Errorf("got %+v", r)
	}
}

func TestExtractCandidatePrefersFence(t *testing.T) {
	text := "{\"decoy\": 1}\n```json\n{\"real\": 2}\n```"
	got := ExtractCandidate(text)
	if got != `{"real": 2}` {
		t.Errorf("ExtractCandidate = %q", got)
	}
}
