package translate

import (
	"slices"

	"github.com/abadojack/whatlanggo"
)

type whatlangIdentifier struct {
	opts          whatlanggo.Options
	minConfidence float64
}

// NewIdentifier restricts detection to the given ISO 639-1 codes. Results below
// minConfidence are reported as unknown.
func NewIdentifier(codes []string, minConfidence float64) Identifier {
	whitelist := make(map[whatlanggo.Lang]bool)
	for lang := range whatlanggo.Langs {
		if slices.Contains(codes, lang.Iso6391()) {
			whitelist[lang] = true
		}
	}
	opts := whatlanggo.Options{}
	if len(whitelist) > 0 {
		opts.Whitelist = whitelist
	}
	return &whatlangIdentifier{opts: opts, minConfidence: minConfidence}
}

func (w *whatlangIdentifier) Identify(text string) (string, bool) {
	info := whatlanggo.DetectWithOptions(text, w.opts)
	if info.Lang == -1 || info.Confidence < w.minConfidence {
		return "", false
	}
	return info.Lang.Iso6391(), true
}
