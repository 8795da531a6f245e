// Package jsonrepair extracts and repairs JSON embedded in language-model
// output. Model replies are not guaranteed to be well-formed: they wrap JSON
// in markdown fences, leave trailing commas, use single quotes, or break
// string literals across raw newlines. Every consumer of agent output in
// this codebase routes through Parse instead of calling encoding/json on the
// raw reply.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Result is the outcome of a Parse attempt. Parse never panics and never
// returns an error through a second channel; failure is Success=false with
// a diagnostic in Err.
type Result struct {
	Success     bool
	Data        any
	Err         string
	WasRepaired bool
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// Parse attempts, in order: the text verbatim, the whole text repaired, an
// extracted candidate (fenced block, then balanced object, then balanced
// array) verbatim, and finally a repaired form of the candidate. First
// success wins.
func Parse(text string) Result {
	raw, wasRepaired, diag := locate(text)
	if diag != "" {
		return Result{Success: false, Err: diag}
	}

	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		// locate already validated the payload; this only fires if the
		// payload round-trips differently, which would be a bug here.
		return Result{Success: false, Err: fmt.Sprintf("json decode failed: %v", err)}
	}
	return Result{Success: true, Data: data, WasRepaired: wasRepaired}
}

// ParseInto runs the same strategy as Parse but decodes the recovered JSON
// into v. Returns whether repair was needed.
func ParseInto(text string, v any) (bool, error) {
	raw, wasRepaired, diag := locate(text)
	if diag != "" {
		return false, fmt.Errorf("jsonrepair: %s", diag)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return wasRepaired, fmt.Errorf("jsonrepair: decode into %T: %w", v, err)
	}
	return wasRepaired, nil
}

// locate finds the first parseable JSON payload in text. It returns the raw
// JSON string, whether repair was applied, and a diagnostic when every
// strategy failed.
func locate(text string) (raw string, wasRepaired bool, diag string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false, "empty input"
	}

	// Strategy 1: the whole text is already JSON.
	if json.Valid([]byte(trimmed)) {
		return trimmed, false, ""
	}

	// Strategy 2: the whole text repairs into JSON. Trying this before
	// narrowing to a candidate keeps arrays intact; candidate extraction
	// prefers the first object and would reduce a broken array to its
	// first element.
	if repaired := Repair(trimmed); json.Valid([]byte(repaired)) {
		return repaired, true, ""
	}

	// Strategy 3: extract a candidate substring and try it verbatim.
	candidate := ExtractCandidate(text)
	if candidate == "" {
		return "", false, "no JSON candidate found (no fenced block, object, or array)"
	}
	if json.Valid([]byte(candidate)) {
		return candidate, false, ""
	}

	// Strategy 4: repair the candidate.
	repaired := Repair(candidate)
	if json.Valid([]byte(repaired)) {
		return repaired, true, ""
	}

	preview := candidate
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	return "", false, fmt.Sprintf("all parse strategies exhausted; candidate begins %q", preview)
}

// ExtractCandidate pulls the most likely JSON payload out of free-form text:
// the first fenced code block if present, otherwise the first
// balanced-looking object, otherwise the first balanced-looking array.
func ExtractCandidate(text string) string {
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			return inner
		}
	}
	if span := balancedSpan(text, '{', '}'); span != "" {
		return span
	}
	return balancedSpan(text, '[', ']')
}

// balancedSpan returns the first span of text where open/close delimiters
// balance out, or "" if none closes. Depth counting is intentionally naive
// about string contents; the repair pass cleans up what this misjudges.
func balancedSpan(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// Repair applies the mechanical fixes that cover the common ways models
// break JSON: trailing commas, raw newlines inside string literals,
// single-quoted strings, and stray control characters.
func Repair(candidate string) string {
	s := trailingCommaRe.ReplaceAllString(candidate, "$1")
	s = escapeNewlinesInStrings(s)
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	return stripControlChars(s)
}

// escapeNewlinesInStrings rewrites raw newline characters that occur inside
// double-quoted string literals into their escaped forms.
func escapeNewlinesInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			b.WriteByte(c)
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
			b.WriteByte(c)
		case '\n':
			if inString {
				b.WriteString(`\n`)
			} else {
				b.WriteByte(c)
			}
		case '\r':
			if inString {
				b.WriteString(`\r`)
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// stripControlChars removes control characters other than whitespace. These
// show up when models emit terminal escapes or NULs mid-payload.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
