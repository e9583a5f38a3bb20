package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	reFenced      = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")
	reOpeningOnly = regexp.MustCompile("^```[A-Za-z0-9_+-]*")
)

// StripResponse removes markdown code fences and surrounding whitespace from a
// model response. Applying it twice gives the same result as applying it once.
func StripResponse(raw string) string {
	text := strings.TrimSpace(raw)

	if m := reFenced.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	// Unbalanced fences: a truncated answer or a stray closing fence
	text = reOpeningOnly.ReplaceAllString(text, "")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// ParseCandidates strips and decodes a model response into loosely typed
// elements. It never fails: a response that is not a JSON array yields no
// elements and a MalformedResponse describing why.
func ParseCandidates(raw string) ([]any, *MalformedResponse) {
	text := StripResponse(raw)
	if text == "" {
		return nil, &MalformedResponse{Reason: "empty response", Raw: raw}
	}

	v, err := decodeJSON(text)
	if err != nil {
		// Prose around the array: fall back to the outermost brackets
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start == -1 || end <= start {
			return nil, &MalformedResponse{Reason: "invalid json: " + err.Error(), Raw: raw}
		}
		v, err = decodeJSON(text[start : end+1])
		if err != nil {
			return nil, &MalformedResponse{Reason: "invalid json: " + err.Error(), Raw: raw}
		}
	}

	elems, ok := v.([]any)
	if !ok {
		return nil, &MalformedResponse{Reason: "response is not a json array", Raw: raw}
	}
	return elems, nil
}

// decodeJSON decodes a single JSON value keeping numbers as json.Number
func decodeJSON(text string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after json value at offset %d", dec.InputOffset())
	}
	return v, nil
}
