package stream

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-live/internal/config"
)

// InferenceResult is the recognizer output for one window.
type InferenceResult struct {
	WindowIndex int
	Text        string
	Language    string
	Latency     time.Duration
}

// Transcript is the append-only sequence of accepted fragments.
type Transcript struct {
	fragments []string
}

// Append returns a transcript extended by text. The receiver is left unchanged.
func (t Transcript) Append(text string) Transcript {
	n := len(t.fragments)
	return Transcript{fragments: append(t.fragments[:n:n], text)}
}

func (t Transcript) Fragments() []string {
	return append([]string(nil), t.fragments...)
}

func (t Transcript) Len() int { return len(t.fragments) }

// Text joins the fragments with single spaces.
func (t Transcript) Text() string { return strings.Join(t.fragments, " ") }

// MergePolicy decides what a window contributes to the transcript and what
// context the recognizer sees for the next window.
type MergePolicy interface {
	Name() string
	// Merge returns the updated transcript and the delta to emit. An empty delta means nothing changed.
	Merge(prev Transcript, text string) (Transcript, string)
	Context(t Transcript) string
	UsesContext() bool
}

// NewPolicy builds the merge policy named in cfg.
func NewPolicy(cfg config.StreamConfig) (MergePolicy, error) {
	switch cfg.MergePolicy {
	case "", config.MergeNoContext:
		return NoContext{}, nil
	case config.MergeContextBiased:
		trim, err := NewTrimmer(cfg.OverlapTrim, cfg.OverlapMinWords)
		if err != nil {
			return nil, err
		}
		return ContextBiased{Trim: trim, MaxChars: cfg.ContextMaxChars}, nil
	default:
		return nil, config.Invalid("stream.merge_policy", "unknown policy %q", cfg.MergePolicy)
	}
}

// NoContext decodes every window independently and emits whatever it produced.
type NoContext struct{}

func (NoContext) Name() string { return config.MergeNoContext }

func (NoContext) Merge(prev Transcript, text string) (Transcript, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return prev, ""
	}
	return prev.Append(text), text
}

func (NoContext) Context(Transcript) string { return "" }

func (NoContext) UsesContext() bool { return false }

// ContextBiased feeds the tail of the transcript back as the recognizer prompt
// and strips the words a window repeats from the previous output.
type ContextBiased struct {
	Trim     Trimmer
	MaxChars int
}

func (ContextBiased) Name() string { return config.MergeContextBiased }

func (c ContextBiased) Merge(prev Transcript, text string) (Transcript, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return prev, ""
	}
	if c.Trim != nil && prev.Len() > 0 {
		text = strings.TrimSpace(c.Trim.Trim(prev.Text(), text))
		if text == "" {
			return prev, ""
		}
	}
	return prev.Append(text), text
}

func (c ContextBiased) Context(t Transcript) string {
	return tail(t.Text(), c.MaxChars)
}

func (ContextBiased) UsesContext() bool { return true }

// tail returns at most max bytes from the end of s, starting on a word boundary when one exists.
func tail(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	out := s[cut:]
	if cut > 0 && s[cut-1] != ' ' {
		if i := strings.IndexByte(out, ' '); i >= 0 {
			out = out[i+1:]
		}
	}
	return out
}

// Merger holds the running transcript. It is mutated by the pipeline goroutine only;
// the lock lets other goroutines read snapshots.
type Merger struct {
	mu         sync.RWMutex
	policy     MergePolicy
	transcript Transcript
}

func NewMerger(policy MergePolicy) *Merger {
	if policy == nil {
		policy = NoContext{}
	}
	return &Merger{policy: policy}
}

// Merge folds one inference result into the transcript and returns the delta, if any.
func (m *Merger) Merge(res InferenceResult) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, delta := m.policy.Merge(m.transcript, res.Text)
	if delta == "" {
		return "", false
	}
	m.transcript = next
	return delta, true
}

// Context is the prompt for the next window.
func (m *Merger) Context() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Context(m.transcript)
}

func (m *Merger) Transcript() Transcript {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transcript
}

func (m *Merger) Policy() MergePolicy { return m.policy }
