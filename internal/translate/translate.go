// Package translate pairs every transcript fragment with its rendering in the
// other language of a configured pair.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
)

// Translator renders text from one language into another.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Identifier guesses the language of a fragment. ok is false when it cannot tell.
type Identifier interface {
	Identify(text string) (lang string, ok bool)
}

// Pair holds a fragment in both languages of the configured pair.
type Pair struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Detected  string `json:"detected"`
}

// New builds the translator selected by cfg.Mode.
func New(cfg config.TranslationConfig) (Translator, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "", "mock":
		return Mock{}, nil
	case "libretranslate":
		return NewLibreTranslate(cfg.Endpoint, timeout), nil
	case "ollama":
		return NewOllama(cfg.Endpoint, cfg.Model, timeout), nil
	case "exec":
		return NewExecTranslator(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported translation mode %q", cfg.Mode)
	}
}

// Pairer detects which side of the pair a fragment is in and translates it to the other side.
type Pairer struct {
	primary    string
	secondary  string
	translator Translator
	identifier Identifier
	timeout    time.Duration
	logger     *slog.Logger
}

func NewPairer(cfg config.TranslationConfig, translator Translator, identifier Identifier, logger *slog.Logger) *Pairer {
	if logger == nil {
		logger = slog.Default()
	}
	if identifier == nil {
		identifier = NewIdentifier([]string{cfg.PrimaryLanguage, cfg.SecondaryLanguage}, cfg.MinConfidence)
	}
	return &Pairer{
		primary:    cfg.PrimaryLanguage,
		secondary:  cfg.SecondaryLanguage,
		translator: translator,
		identifier: identifier,
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:     logger.With(slog.String("component", "translate")),
	}
}

func (p *Pairer) Languages() (primary, secondary string) {
	return p.primary, p.secondary
}

// Pair returns text on its detected side and the translation on the other.
// Undetectable text is treated as the primary language. On translation failure the
// returned pair still carries the source side alongside the error.
func (p *Pairer) Pair(ctx context.Context, text string) (Pair, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Pair{}, nil
	}
	detected, ok := p.identifier.Identify(text)
	if !ok || (detected != p.primary && detected != p.secondary) {
		p.logger.Debug("language undetermined, assuming primary", slog.String("guess", detected))
		detected = p.primary
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	pair := Pair{Detected: detected}
	if detected == p.secondary {
		pair.Secondary = text
		out, err := p.translator.Translate(ctx, text, p.secondary, p.primary)
		if err != nil {
			return pair, fmt.Errorf("translate %s->%s: %w", p.secondary, p.primary, err)
		}
		pair.Primary = strings.TrimSpace(out)
		return pair, nil
	}
	pair.Primary = text
	out, err := p.translator.Translate(ctx, text, p.primary, p.secondary)
	if err != nil {
		return pair, fmt.Errorf("translate %s->%s: %w", p.primary, p.secondary, err)
	}
	pair.Secondary = strings.TrimSpace(out)
	return pair, nil
}

// Mock tags the text with the target language. Used for dry runs and tests.
type Mock struct{}

func (Mock) Translate(ctx context.Context, text, _, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "[" + target + "] " + text, nil
}
