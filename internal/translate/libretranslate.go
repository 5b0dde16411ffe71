package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// LibreTranslate talks to a LibreTranslate compatible /translate endpoint.
type LibreTranslate struct {
	base string
	http *http.Client
}

func NewLibreTranslate(base string, timeout time.Duration) *LibreTranslate {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &LibreTranslate{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *LibreTranslate) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if source == "" {
		source = "auto"
	}
	b, err := json.Marshal(map[string]string{
		"q":      text,
		"source": source,
		"target": target,
		"format": "text",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/translate", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("translation http %d for target %s", resp.StatusCode, target)
	}

	var lr struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("decode translation: %w", err)
	}
	return strings.TrimSpace(lr.TranslatedText), nil
}
