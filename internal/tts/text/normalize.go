// Package text cleans target text before it is chunked for synthesis.
package text

import (
	"regexp"
	"strings"
)

// Regex patterns for text normalization.
const (
	referenceRegexPattern  = `\[\d+\]`
	whitespaceRegexPattern = `\s+`
)

// Invisible characters that pasted text commonly carries.
const (
	zeroWidthSpace  = "\u200b"
	zeroWidthJoiner = "\u200d"
	byteOrderMark   = "\ufeff"
	softHyphen      = "\u00ad"
)

// Normalizer flattens pasted multi-line text into a single line the model
// vocabulary can represent. It never changes letters or punctuation.
type Normalizer struct {
	referencePattern  *regexp.Regexp
	whitespacePattern *regexp.Regexp
	invisibleReplacer *strings.Replacer
}

// NewNormalizer creates a Normalizer with its patterns compiled.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		invisibleReplacer: strings.NewReplacer(
			zeroWidthSpace, "",
			zeroWidthJoiner, "",
			byteOrderMark, "",
			softHyphen, "",
		),
	}
}

// Normalize removes invisible characters and numeric citation markers such
// as "[12]", collapses every whitespace run (newlines and tabs included) into
// one space and trims the ends.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = n.invisibleReplacer.Replace(text)
	text = n.referencePattern.ReplaceAllString(text, "")
	text = n.whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
