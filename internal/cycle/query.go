package cycle

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// synonyms maps query words onto one canonical spelling. Targets are never
// keys, so a second pass is a no-op.
var synonyms = map[string]string{
	"btn":     "button",
	"buttons": "button",
	"find":    "search",
	"lookup":  "search",
	"field":   "input",
	"fields":  "input",
	"textbox": "input",
	"inputs":  "input",
	"href":    "link",
	"links":   "link",
	"url":     "link",
	"css":     "selector",
	"xpath":   "selector",
}

// stopWords carry no meaning for similarity.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "there": true,
	"on": true, "of": true, "to": true, "in": true, "for": true, "what": true,
	"which": true, "how": true, "where": true, "this": true, "page": true,
	"any": true, "it": true, "do": true, "does": true, "i": true,
}

const (
	minSignificantWords = 3
	similarityThreshold = 0.7
)

// NormalizeQuery folds case and punctuation, collapses whitespace and
// replaces known synonyms so trivially rephrased questions compare equal.
func NormalizeQuery(q string) string {
	folded := cases.Fold().String(q)
	folded = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, folded)

	words := strings.Fields(folded)
	for i, w := range words {
		if canon, ok := synonyms[w]; ok {
			words[i] = canon
		}
	}
	return strings.Join(words, " ")
}

func significantWords(q string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(NormalizeQuery(q)) {
		if !stopWords[w] {
			set[w] = struct{}{}
		}
	}
	return set
}

// SimilarQueries reports whether two questions share at least 70% of their
// significant words. Questions with fewer than three significant words are
// only ever equal, never similar.
func SimilarQueries(a, b string) bool {
	wa, wb := significantWords(a), significantWords(b)
	if len(wa) < minSignificantWords || len(wb) < minSignificantWords {
		return false
	}
	common := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			common++
		}
	}
	denom := len(wa)
	if len(wb) > denom {
		denom = len(wb)
	}
	return float64(common)/float64(denom) >= similarityThreshold
}
