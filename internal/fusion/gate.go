package fusion

import (
	"strings"
	"unicode"
)

var selfTokens = map[string]struct{}{
	"i": {}, "i'm": {}, "me": {}, "my": {}, "mine": {}, "myself": {},
	"we": {}, "our": {}, "us": {},
	"remember": {}, "recall": {}, "remind": {}, "said": {},
}

var selfPhrases = []string{"told you"}

// NeedsMemory reports whether a question refers to the user or to earlier
// conversation, in which case long-term memory is worth searching. Both
// false positives and false negatives are tolerated.
func NeedsMemory(question string) bool {
	q := strings.ToLower(strings.ReplaceAll(question, "’", "'"))

	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, w := range words {
		if _, ok := selfTokens[strings.Trim(w, "'")]; ok {
			return true
		}
		if _, ok := selfTokens[w]; ok {
			return true
		}
	}

	joined := " " + strings.Join(words, " ") + " "
	for _, p := range selfPhrases {
		if strings.Contains(joined, " "+p+" ") {
			return true
		}
	}
	return false
}
