// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
	// openFenceRegex strips an opening fence whose closing fence was cut off.
	openFenceRegex = regexp.MustCompile("(?s)^\x60\x60\x60(?:json)?\\s*")
)

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues, such as wrapping the JSON in markdown code blocks
// or surrounding it with conversational text.
func ParseJSONResponse[T any](response string) (*T, error) {
	jsonStringToParse := ExtractJSON(response)

	var result T
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(jsonStringToParse), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(jsonStringToParse, 500))
	}
	return &result, nil
}

// ExtractJSON returns the most plausible JSON document inside a model response.
// It never fails; when nothing looks like JSON the trimmed input is returned.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	// 1. Markdown wrapping (most common case).
	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
		// Truncated output: the closing fence never arrived.
		return strings.TrimSpace(openFenceRegex.ReplaceAllString(response, ""))
	}

	if (isObject || isArray) && !strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[") {
		// 2. The structure sits within conversational text.
		if isObject {
			fb := strings.Index(response, "{")
			lb := strings.LastIndex(response, "}")
			if fb != -1 && lb > fb {
				return response[fb : lb+1]
			}
			if fb != -1 {
				// Opened but never closed; hand the tail to the repair step.
				return response[fb:]
			}
		}
		if isArray {
			fb := strings.Index(response, "[")
			lb := strings.LastIndex(response, "]")
			if fb != -1 && lb > fb {
				return response[fb : lb+1]
			}
		}
	}
	return response
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
