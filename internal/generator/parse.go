package generator

import (
	"encoding/json"
	"regexp"
)

// Placeholder labels used when the model reply is not structured.
const (
	RawTechnique     = "raw_generation"
	RawReasoning     = "Direct generation without structured output"
	UnknownTheme     = "unknown"
	UnknownTechnique = "unknown"
)

// jsonObject matches from the first '{' to the last '}'.
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseResult extracts the structured payload from a model reply. Replies
// without a parseable JSON object become raw content with placeholder labels;
// missing fields fall back one by one.
func ParseResult(text string) *Result {
	raw := &Result{
		Content:      text,
		Technique:    RawTechnique,
		Reasoning:    RawReasoning,
		ProjectTheme: UnknownTheme,
	}

	match := jsonObject.FindString(text)
	if match == "" {
		return raw
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(match), &fields); err != nil {
		return raw
	}

	return &Result{
		Content:      stringField(fields, "readmeContent", text),
		Technique:    stringField(fields, "technique", UnknownTechnique),
		Reasoning:    stringField(fields, "reasoning", ""),
		ProjectTheme: stringField(fields, "projectTheme", UnknownTheme),
	}
}

// stringField returns fields[key] as a string. Missing, empty or non-string
// values yield fallback without affecting the other fields.
func stringField(fields map[string]json.RawMessage, key, fallback string) string {
	var v string
	if err := json.Unmarshal(fields[key], &v); err != nil || v == "" {
		return fallback
	}
	return v
}
