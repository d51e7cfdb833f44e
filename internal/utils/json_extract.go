package utils

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnmarshalModelJSON decodes a model reply into v. Replies wrapped in prose or code fences are
// narrowed to the outermost JSON object first.
func UnmarshalModelJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("failed to extract JSON from LLM response")
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	return nil
}
