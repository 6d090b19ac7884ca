package llmutil

import (
	"regexp"
	"strings"
)

var (
	backtickRegex = regexp.MustCompile("\x60([^\x60\n]+)\x60")

	// labelled selectors, most specific shape first.
	selectorPatterns = []*regexp.Regexp{
		regexp.MustCompile("(?i)(?:selector|селектор)[:\\s]+\x60?([\\w-]*\\[[^\\]]+\\])\x60?"),
		regexp.MustCompile("(?i)(?:selector|селектор)[:\\s]+\x60?([\\w-]*[#.][\\w-]+(?:[.#:][\\w()+-]+)*)\x60?"),
		regexp.MustCompile("(?i)(?:selector|селектор)[:\\s]+\x60?([^\\s,;!?\x60]+)\x60?"),
	}

	positionalPseudoRegex = regexp.MustCompile(`:(?:nth-child|nth-of-type|nth-last-child|nth-last-of-type)\([^)]*\)|:(?:first|last)-(?:child|of-type)`)
	spaceRunRegex         = regexp.MustCompile(`\s+`)
	colonRunRegex         = regexp.MustCompile(`:+`)
)

var knownTags = []string{
	"div", "button", "input", "a", "span", "form", "select", "textarea", "ul", "li",
	"p", "h1", "h2", "h3", "h4", "h5", "h6", "img", "svg", "path", "label", "nav", "table",
}

// ExtractSelector finds a CSS selector in a free-text answer to a page
// question. Backtick-quoted candidates win, then labelled ones such as
// "selector: #delete". Returns "" when nothing plausible is present.
func ExtractSelector(answer string) string {
	if strings.TrimSpace(answer) == "" {
		return ""
	}
	for _, m := range backtickRegex.FindAllStringSubmatch(answer, -1) {
		if sel := cleanSelector(m[1]); looksLikeSelector(sel) {
			return sel
		}
	}
	for _, re := range selectorPatterns {
		if m := re.FindStringSubmatch(answer); m != nil {
			if sel := cleanSelector(m[1]); looksLikeSelector(sel) {
				return sel
			}
		}
	}
	return ""
}

// NormalizeSelector removes positional pseudo-classes, which go stale as soon
// as the page inserts or removes siblings. Functional ones such as :disabled
// are kept.
func NormalizeSelector(selector string) string {
	if selector == "" {
		return selector
	}
	out := positionalPseudoRegex.ReplaceAllString(selector, "")
	out = strings.TrimSpace(spaceRunRegex.ReplaceAllString(out, " "))
	return colonRunRegex.ReplaceAllString(out, ":")
}

func cleanSelector(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "\x60")
	return strings.TrimRight(s, ".,;!?")
}

func looksLikeSelector(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "#") || strings.HasPrefix(s, ".") ||
		strings.ContainsAny(s, "[.#") || strings.Contains(s, "__") || strings.Contains(s, "--") {
		return true
	}
	lower := strings.ToLower(s)
	for _, tag := range knownTags {
		if lower == tag || strings.HasPrefix(lower, tag+":") || strings.HasPrefix(lower, tag+" ") || strings.HasPrefix(lower, tag+">") {
			return true
		}
	}
	return false
}
