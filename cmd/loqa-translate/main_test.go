package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loqa-live.yaml")
	body := "translation:\n  mode: mock\n  primary_language: en\n  secondary_language: es\noutput:\n  color: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunTranslateStopsOnExit(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("The weather is lovely today and we are walking in the park\n\nexit\nnever read\n")
	if err := runTranslate(context.Background(), writeConfig(t), in, &out); err != nil {
		t.Fatalf("run translate: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Translating English <-> Español") {
		t.Fatalf("missing banner:\n%s", got)
	}
	if !strings.Contains(got, "↳ Español: [es] The weather is lovely") {
		t.Fatalf("missing translation:\n%s", got)
	}
	if strings.Contains(got, "never read") {
		t.Fatalf("input after exit was processed:\n%s", got)
	}
}

func TestRunTranslateMissingConfig(t *testing.T) {
	err := runTranslate(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), strings.NewReader(""), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error")
	}
}
