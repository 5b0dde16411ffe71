package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
)

type fixedIdentifier struct {
	lang string
	ok   bool
}

func (f fixedIdentifier) Identify(string) (string, bool) { return f.lang, f.ok }

type failingTranslator struct{}

func (failingTranslator) Translate(context.Context, string, string, string) (string, error) {
	return "", errors.New("backend down")
}

func pairConfig() config.TranslationConfig {
	return config.TranslationConfig{Enabled: true, PrimaryLanguage: "en", SecondaryLanguage: "es", TimeoutMS: 1000}
}

func TestPairerPrimaryToSecondary(t *testing.T) {
	p := NewPairer(pairConfig(), Mock{}, fixedIdentifier{"en", true}, nil)
	pair, err := p.Pair(context.Background(), " good morning ")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if pair.Primary != "good morning" || pair.Secondary != "[es] good morning" || pair.Detected != "en" {
		t.Fatalf("pair = %+v", pair)
	}
}

func TestPairerSecondaryToPrimary(t *testing.T) {
	p := NewPairer(pairConfig(), Mock{}, fixedIdentifier{"es", true}, nil)
	pair, err := p.Pair(context.Background(), "buenos días")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if pair.Secondary != "buenos días" || pair.Primary != "[en] buenos días" {
		t.Fatalf("pair = %+v", pair)
	}
}

func TestPairerUndetectedFallsBackToPrimary(t *testing.T) {
	for _, id := range []Identifier{fixedIdentifier{"", false}, fixedIdentifier{"de", true}} {
		p := NewPairer(pairConfig(), Mock{}, id, nil)
		pair, err := p.Pair(context.Background(), "hmm")
		if err != nil {
			t.Fatalf("pair: %v", err)
		}
		if pair.Detected != "en" || pair.Primary != "hmm" {
			t.Fatalf("pair = %+v, want primary side", pair)
		}
	}
}

func TestPairerTranslationFailureKeepsSource(t *testing.T) {
	p := NewPairer(pairConfig(), failingTranslator{}, fixedIdentifier{"es", true}, nil)
	pair, err := p.Pair(context.Background(), "hola")
	if err == nil {
		t.Fatal("expected error")
	}
	if pair.Secondary != "hola" || pair.Primary != "" {
		t.Fatalf("pair = %+v", pair)
	}
}

func TestPairerEmptyText(t *testing.T) {
	p := NewPairer(pairConfig(), failingTranslator{}, fixedIdentifier{"en", true}, nil)
	pair, err := p.Pair(context.Background(), "   ")
	if err != nil || pair != (Pair{}) {
		t.Fatalf("pair = %+v, err = %v", pair, err)
	}
}

func TestIdentifierWhitelist(t *testing.T) {
	id := NewIdentifier([]string{"en", "es"}, 0)
	lang, ok := id.Identify("Hola, ¿cómo estás? Me llamo Juan y vivo en una ciudad muy bonita con mi familia.")
	if !ok || lang != "es" {
		t.Fatalf("Identify = %q, %v, want es", lang, ok)
	}
	lang, ok = id.Identify("The weather today is lovely and we are going for a long walk in the park.")
	if !ok || lang != "en" {
		t.Fatalf("Identify = %q, %v, want en", lang, ok)
	}
}

func TestIdentifierMinConfidence(t *testing.T) {
	id := NewIdentifier([]string{"en", "es"}, 1.01)
	if lang, ok := id.Identify("hello there my friend"); ok {
		t.Fatalf("Identify = %q, want unknown above max confidence", lang)
	}
}

func TestLibreTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body["source"] != "en" || body["target"] != "es" || body["format"] != "text" {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"translatedText": " hola " + body["q"]})
	}))
	defer srv.Close()

	client := NewLibreTranslate(srv.URL+"/", time.Second)
	out, err := client.Translate(context.Background(), "world", "en", "es")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "hola world" {
		t.Fatalf("translate = %q, want %q", out, "hola world")
	}
}

func TestLibreTranslateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewLibreTranslate(srv.URL, time.Second).Translate(context.Background(), "hi", "en", "es"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewModes(t *testing.T) {
	if _, err := New(config.TranslationConfig{Mode: "libretranslate", Endpoint: "http://localhost:5000"}); err != nil {
		t.Fatalf("libretranslate: %v", err)
	}
	if _, err := New(config.TranslationConfig{Mode: "exec"}); err == nil {
		t.Fatal("expected error for empty exec command")
	}
	if _, err := New(config.TranslationConfig{Mode: "argos"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestOllamaStreamsTranslation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Stream || req.Model != "tiny" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		for _, part := range []string{`{"response":" Buenos"}`, `{"response":" días"}`, `{"response":"","done":true}`} {
			_, _ = w.Write([]byte(part + "\n"))
		}
	}))
	defer srv.Close()

	out, err := NewOllama(srv.URL, "tiny", time.Second).Translate(context.Background(), "Good morning", "en", "es")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "Buenos días" {
		t.Fatalf("translate = %q, want %q", out, "Buenos días")
	}
}

func TestOllamaStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model not found"}` + "\n"))
	}))
	defer srv.Close()

	if _, err := NewOllama(srv.URL, "missing", time.Second).Translate(context.Background(), "hi", "en", "es"); err == nil {
		t.Fatal("expected error")
	}
}
