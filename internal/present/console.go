package present

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/loqalabs/loqa-live/internal/stream"
)

var languageNames = map[string]string{
	"en": "English",
	"es": "Español",
	"fr": "Français",
	"de": "Deutsch",
	"it": "Italiano",
	"pt": "Português",
}

// LanguageName is the label printed next to a translation.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return strings.ToUpper(code)
}

// Console prints each delta as it arrives, followed by the translated pair when present.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	primary   string
	secondary string
	text      *color.Color
	first     *color.Color
	second    *color.Color
	rule      *color.Color
}

func NewConsole(w io.Writer, primary, secondary string, useColor bool) *Console {
	c := &Console{
		w:         w,
		primary:   primary,
		secondary: secondary,
		text:      color.New(color.FgCyan, color.Bold),
		first:     color.New(color.FgGreen),
		second:    color.New(color.FgYellow),
		rule:      color.New(color.Faint),
	}
	for _, col := range []*color.Color{c.text, c.first, c.second, c.rule} {
		if useColor {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) Publish(_ context.Context, u stream.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.WriteString(c.text.Sprintf("> %s", u.Delta))
	b.WriteByte('\n')
	if u.Transcript != "" && u.Transcript != u.Delta {
		b.WriteString(c.rule.Sprintf("  %s", u.Transcript))
		b.WriteByte('\n')
	}
	if u.Pair != nil {
		if u.Pair.Primary != "" {
			b.WriteString(c.first.Sprintf("  ↳ %s: %s", LanguageName(c.primary), u.Pair.Primary))
			b.WriteByte('\n')
		}
		if u.Pair.Secondary != "" {
			b.WriteString(c.second.Sprintf("  ↳ %s: %s", LanguageName(c.secondary), u.Pair.Secondary))
			b.WriteByte('\n')
		}
		b.WriteString(c.rule.Sprint(strings.Repeat("-", 50)))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(c.w, b.String())
	return err
}

// Close prints the merged transcript, when there is one, and the final status line.
func (c *Console) Close(_ context.Context, s stream.Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Transcript != "" {
		if _, err := fmt.Fprintf(c.w, "\n%s\n", c.text.Sprintf("Transcript: %s", s.Transcript)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(c.w, "\nStopping … adiós! (%d windows, %d updates, %d inference faults, %d samples dropped)\n",
		s.Windows, s.Emitted, s.InferenceFaults, s.DroppedSamples)
	return err
}
