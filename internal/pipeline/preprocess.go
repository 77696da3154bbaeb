package pipeline

import (
	"regexp"
	"strings"
)

// Normalized is the output of the Preprocessor: a form suitable for the
// classifier tiers, with the original utterance preserved for handlers
// that need to quote the caller verbatim.
type Normalized struct {
	Raw  string
	Text string
}

var (
	wakeTokenPattern = regexp.MustCompile(`(?i)^\s*(hey\s+)?barnabee\s*[,.]?\s*`)
	politePrefixes   = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^please\s+`),
		regexp.MustCompile(`(?i)^can\s+you\s+`),
		regexp.MustCompile(`(?i)^could\s+you\s+`),
		regexp.MustCompile(`(?i)^would\s+you\s+`),
	}
	whitespacePattern    = regexp.MustCompile(`\s+`)
	trailingPunctPattern = regexp.MustCompile(`[.!?]+$`)
)

// Preprocess normalizes an utterance per §4.1: strip a leading wake token
// and optional separator, strip one politeness prefix, collapse internal
// whitespace, strip trailing terminal punctuation, lower-case.
func Preprocess(raw string) Normalized {
	text := raw

	text = wakeTokenPattern.ReplaceAllString(text, "")

	for _, p := range politePrefixes {
		if p.MatchString(text) {
			text = p.ReplaceAllString(text, "")
			break
		}
	}

	text = strings.TrimSpace(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = trailingPunctPattern.ReplaceAllString(text, "")
	text = strings.ToLower(strings.TrimSpace(text))

	return Normalized{Raw: raw, Text: text}
}
