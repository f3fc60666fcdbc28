package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bankchat/bankchat-go/bankchat"
)

// extractJSON pulls the first JSON object out of a model reply. Models wrap
// objects in markdown fences or surround them with prose often enough that a
// strict json.Unmarshal on the raw reply would fail most of the time.
//
// Lookup order: a ```json fenced block, then a bare ``` fenced block, then
// the first balanced {...} span found by brace counting.
func extractJSON(raw string) (string, bool) {
	if block, ok := fencedBlock(raw, "```json"); ok {
		return block, true
	}
	if block, ok := fencedBlock(raw, "```"); ok {
		if strings.HasPrefix(strings.TrimSpace(block), "{") {
			return block, true
		}
	}
	return balancedObject(raw)
}

func fencedBlock(raw, fence string) (string, bool) {
	start := strings.Index(raw, fence)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// balancedObject scans for the first '{' and returns the span up to its
// matching '}', tracking string literals and escapes so braces inside quoted
// values do not confuse the count.
func balancedObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// parseReply extracts and decodes the JSON object embedded in a model reply.
// Failures are reported as *bankchat.ParseError so the caller can fall back
// to the stage defaults instead of retrying.
func parseReply(stageName, raw string) (bankchat.Fields, error) {
	text, ok := extractJSON(raw)
	if !ok {
		return nil, &bankchat.ParseError{
			Stage: stageName,
			Raw:   raw,
			Err:   fmt.Errorf("no JSON object in reply"),
		}
	}

	var fields bankchat.Fields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, &bankchat.ParseError{Stage: stageName, Raw: raw, Err: err}
	}
	return fields, nil
}
