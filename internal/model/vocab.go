package model

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrEmptyVocab is returned for a vocabulary without tokens.
	ErrEmptyVocab = errors.New("vocabulary is empty")
	// ErrDuplicateToken is returned when a token appears on two lines.
	ErrDuplicateToken = errors.New("duplicate vocabulary token")
)

// Vocab maps characters to the embedding indices of the model. The index of a
// token is its zero-based line number in the vocabulary file.
type Vocab struct {
	tokens []string
	index  map[string]int
}

// LoadVocab reads a vocabulary file with one token per line. Only the line
// terminator is stripped, so a line holding a single space is the space token.
func LoadVocab(path string) (*Vocab, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer file.Close()

	vocab := &Vocab{tokens: nil, index: make(map[string]int)}
	scanner := bufio.NewScanner(file)
	line := 0

	for scanner.Scan() {
		token := strings.TrimSuffix(scanner.Text(), "\r")

		if prev, dup := vocab.index[token]; dup {
			return nil, fmt.Errorf("%w: %q on lines %d and %d", ErrDuplicateToken, token, prev+1, line+1)
		}

		vocab.index[token] = line
		vocab.tokens = append(vocab.tokens, token)
		line++
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	if len(vocab.tokens) == 0 {
		return nil, ErrEmptyVocab
	}

	return vocab, nil
}

// Size returns the number of tokens.
func (v *Vocab) Size() int {
	return len(v.tokens)
}

// Index returns the index of token.
func (v *Vocab) Index(token string) (int, bool) {
	idx, ok := v.index[token]

	return idx, ok
}

// Coverage reports the characters of text that the vocabulary lacks. The
// model maps them to the padding index, which usually means mispronunciation.
func (v *Vocab) Coverage(text string) []string {
	var missing []string

	seen := make(map[string]struct{})

	for _, r := range text {
		token := string(r)
		if _, ok := v.Index(token); ok {
			continue
		}

		if _, dup := seen[token]; dup {
			continue
		}

		seen[token] = struct{}{}
		missing = append(missing, token)
	}

	return missing
}
