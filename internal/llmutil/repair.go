package llmutil

import (
	"errors"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrNoStructure is returned when neither parsing, repair nor scraping
// recovers a single field from a response.
var ErrNoStructure = errors.New("no JSON structure recoverable from response")

var stringFieldRegex = regexp.MustCompile(`"(\w+)"\s*:\s*"([^"]*)"`)

// RepairJSON closes what a truncated JSON document left open: an
// unterminated string, then any open arrays and objects in reverse order.
// A dangling comma or colon before the closers is dropped. Well-formed input
// is returned unchanged.
func RepairJSON(s string) string {
	s = strings.TrimSpace(s)
	var stack []byte
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !inString && len(stack) == 0 {
		return s
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	out := strings.TrimRight(b.String(), " \t\r\n")
	switch {
	case strings.HasSuffix(out, ","):
		out = strings.TrimSuffix(out, ",")
	case strings.HasSuffix(out, ":"):
		out += "null"
	}
	b.Reset()
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// ScrapeStringFields pulls flat "key": "value" pairs out of text that is not
// valid JSON. Later duplicates overwrite earlier ones.
func ScrapeStringFields(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range stringFieldRegex.FindAllStringSubmatch(s, -1) {
		out[m[1]] = m[2]
	}
	return out
}

// DecodeObject parses a model response into a generic object, escalating
// from a strict parse to structural repair and finally to a flat scrape of
// string fields. The returned flag reports whether any fallback was needed.
func DecodeObject(response string) (map[string]interface{}, bool, error) {
	if obj, err := ParseJSONResponse[map[string]interface{}](response); err == nil && *obj != nil {
		return *obj, false, nil
	}

	candidate := RepairJSON(ExtractJSON(response))
	var obj map[string]interface{}
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(candidate), &obj); err == nil && len(obj) > 0 {
		return obj, true, nil
	}

	fields := ScrapeStringFields(response)
	if len(fields) == 0 {
		return nil, true, ErrNoStructure
	}
	obj = make(map[string]interface{}, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	return obj, true, nil
}
