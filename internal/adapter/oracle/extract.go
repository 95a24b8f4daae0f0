package oracle

import (
	"encoding/json"
	"strings"

	"agentindex/internal/domain"
)

// extractJSON pulls a JSON object out of model output. Small models wrap
// JSON in prose or markdown fences more often than not, so the parse is
// a ladder: direct, ```json fence, bare ``` fence, then the outermost
// brace pair. The raw text rides along in the error for provenance.
func extractJSON(stage, raw string) (json.RawMessage, error) {
	text := strings.TrimSpace(raw)

	if obj := tryParse(text); obj != nil {
		return obj, nil
	}

	if idx := strings.Index(text, "```json"); idx >= 0 {
		if obj := tryParse(fenceBody(text[idx+len("```json"):])); obj != nil {
			return obj, nil
		}
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		if obj := tryParse(fenceBody(text[idx+3:])); obj != nil {
			return obj, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if obj := tryParse(text[start : end+1]); obj != nil {
			return obj, nil
		}
	}

	return nil, &domain.OracleParseError{
		Stage:  stage,
		Raw:    clip(raw, 2000),
		Reason: "no JSON object found in response",
	}
}

// tryParse returns the candidate as raw JSON if it parses to an object,
// or the first element if it parses to a non-empty array of objects.
func tryParse(candidate string) json.RawMessage {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return json.RawMessage(candidate)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &arr); err == nil && len(arr) > 0 {
		if err := json.Unmarshal(arr[0], &obj); err == nil {
			return arr[0]
		}
	}
	return nil
}

// fenceBody returns everything up to the closing fence, or the whole
// remainder when the model forgot to close it.
func fenceBody(s string) string {
	if idx := strings.Index(s, "```"); idx >= 0 {
		return s[:idx]
	}
	return s
}

// clip truncates s to max bytes on a rune boundary.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for i := max; i > 0; i-- {
		if (s[i] & 0xC0) != 0x80 {
			return s[:i]
		}
	}
	return ""
}
