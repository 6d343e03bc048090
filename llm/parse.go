package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/localforge/fabric/core"
)

// rawInterpretation mirrors the JSON object the model is instructed to emit.
type rawInterpretation struct {
	Capability string                 `json:"capability"`
	Parameters map[string]interface{} `json:"parameters"`
	Confidence float64                `json:"confidence"`
	Reasoning  string                 `json:"reasoning"`
}

// parseInterpretation extracts the first JSON object found in text and
// decodes it into a core.Interpretation. Models sometimes wrap the
// object in prose or a fenced code block, so the parser scans for the
// outermost balanced brace pair rather than requiring the whole string
// to be valid JSON.
func parseInterpretation(text string) (core.Interpretation, error) {
	object, err := extractJSONObject(text)
	if err != nil {
		return core.Interpretation{}, err
	}

	var raw rawInterpretation
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		return core.Interpretation{}, err
	}

	if raw.Parameters == nil {
		raw.Parameters = map[string]interface{}{}
	}
	if raw.Confidence < 0 {
		raw.Confidence = 0
	}
	if raw.Confidence > 1 {
		raw.Confidence = 1
	}

	return core.Interpretation{
		Capability: raw.Capability,
		Parameters: raw.Parameters,
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
	}, nil
}

func extractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object")
}
