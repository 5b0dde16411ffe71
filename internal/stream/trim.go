package stream

import (
	"strings"
	"unicode"

	"github.com/loqalabs/loqa-live/internal/config"
)

// Trimmer removes the part of next that repeats the end of prev.
type Trimmer interface {
	Trim(prev, next string) string
}

func NewTrimmer(name string, minWords int) (Trimmer, error) {
	switch name {
	case "", config.TrimNone:
		return nil, nil
	case config.TrimWordOverlap:
		if minWords <= 0 {
			minWords = 1
		}
		return WordOverlap{MinWords: minWords}, nil
	default:
		return nil, config.Invalid("stream.overlap_trim", "unknown trimmer %q", name)
	}
}

// WordOverlap drops the longest prefix of next that matches a suffix of prev,
// comparing words case-insensitively with punctuation stripped.
type WordOverlap struct {
	MinWords int
}

func (w WordOverlap) Trim(prev, next string) string {
	prevWords := strings.Fields(prev)
	nextWords := strings.Fields(next)
	limit := min(len(prevWords), len(nextWords))

	for k := limit; k >= w.MinWords && k > 0; k-- {
		if sameWords(prevWords[len(prevWords)-k:], nextWords[:k]) {
			return strings.Join(nextWords[k:], " ")
		}
	}
	return next
}

func sameWords(a, b []string) bool {
	for i := range a {
		if normalizeWord(a[i]) != normalizeWord(b[i]) {
			return false
		}
	}
	return true
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimFunc(s, unicode.IsPunct))
}
