// Package textchunk splits target text into chunks that the model can render
// in a single generation pass.
package textchunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	asciiBreaks = ";:,.!?"
	cjkBreaks   = "；：，。！？"
	// maxReferencePlusTarget bounds reference and generated audio together, in seconds.
	maxReferencePlusTarget = 22.0
)

// Budget returns the chunk size in UTF-8 bytes for a reference clip of the
// given transcript and duration. The model handles roughly 22 seconds of
// combined audio, so the remaining time is filled at the reference speaking
// rate. The result is never below 1.
func Budget(referenceText string, referenceSeconds float64) int {
	if referenceSeconds <= 0 {
		return 1
	}

	budget := int(float64(len(referenceText)) / referenceSeconds * (maxReferencePlusTarget - referenceSeconds))
	if budget < 1 {
		return 1
	}

	return budget
}

// Sentences splits text after ASCII punctuation that is followed by
// whitespace and directly after CJK punctuation.
func Sentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		switch {
		case strings.ContainsRune(cjkBreaks, r):
			sentences = append(sentences, current.String())
			current.Reset()
		case strings.ContainsRune(asciiBreaks, r) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]):
			sentences = append(sentences, current.String())
			current.Reset()

			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
			}
		}
	}

	sentences = append(sentences, current.String())

	return sentences
}

// Split packs sentences greedily into chunks of at most maxBytes UTF-8 bytes.
// A sentence longer than maxBytes becomes a chunk of its own. Chunks are
// trimmed and empty chunks are dropped.
func Split(text string, maxBytes int) []string {
	var (
		chunks  []string
		current string
	)

	for _, sentence := range Sentences(text) {
		if len(current)+len(sentence) <= maxBytes {
			current += withSeparator(sentence)

			continue
		}

		if trimmed := strings.TrimSpace(current); trimmed != "" {
			chunks = append(chunks, trimmed)
		}

		current = withSeparator(sentence)
	}

	if trimmed := strings.TrimSpace(current); trimmed != "" {
		chunks = append(chunks, trimmed)
	}

	return chunks
}

// withSeparator appends a space to sentences ending in a single-byte rune so
// that joined ASCII sentences stay separated. CJK text is joined as-is.
func withSeparator(sentence string) string {
	if sentence == "" {
		return sentence
	}

	last, _ := utf8.DecodeLastRuneInString(sentence)
	if utf8.RuneLen(last) == 1 {
		return sentence + " "
	}

	return sentence
}
