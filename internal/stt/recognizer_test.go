package stt

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-live/internal/config"
)

func TestMockRecognizerSilence(t *testing.T) {
	rec := NewMockRecognizer()
	res, err := rec.Transcribe(context.Background(), Request{Samples: make([]float32, 16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("silence produced %q", res.Text)
	}
}

func TestMockRecognizerSpeech(t *testing.T) {
	samples := make([]float32, 32000)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.5
		} else {
			samples[i] = -0.5
		}
	}
	res, err := NewMockRecognizer().Transcribe(context.Background(), Request{Samples: samples, SampleRate: 16000})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.HasPrefix(res.Text, "[speech 2.0s") {
		t.Fatalf("text = %q, want prefix [speech 2.0s", res.Text)
	}
}

func TestMockRecognizerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockRecognizer().Transcribe(ctx, Request{Samples: []float32{1}, SampleRate: 16000}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestWarmup(t *testing.T) {
	if err := Warmup(context.Background(), NewMockRecognizer(), 16000, Params{}); err != nil {
		t.Fatalf("warmup: %v", err)
	}
}

func TestNewUnknownMode(t *testing.T) {
	if _, err := New(config.STTConfig{Mode: "cloud"}, nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestExecRecognizer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, "stt.sh")
	body := "#!/bin/sh\necho \"$@\" > " + argsFile + "\necho '{\"text\":\" hola mundo \",\"language\":\"es\",\"confidence\":0.9}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	rec, err := NewExecRecognizer(config.STTConfig{Command: script})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), Request{
		Samples:    make([]float32, 1600),
		SampleRate: 16000,
		Prompt:     "previous",
		Params:     Params{Model: "large-v3", Language: "es", BeamSize: 3, Temperatures: []float64{0, 0.2}},
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != " hola mundo " || res.Language != "es" {
		t.Fatalf("result = %+v", res)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := string(raw)
	for _, want := range []string{"--audio", "--model large-v3", "--prompt previous", "--beam-size 3", "--temperature 0,0.2", "--condition-on-previous-text=false"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestExecRecognizerEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer(config.STTConfig{Command: "  "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestParamArgsPrefersModelPath(t *testing.T) {
	args := paramArgs(Request{Params: Params{Model: "small", ModelPath: "/models/ggml.bin", VADFilter: true}})
	i := slices.Index(args, "--model")
	if i < 0 || args[i+1] != "/models/ggml.bin" {
		t.Fatalf("args = %v", args)
	}
	if !slices.Contains(args, "--vad-filter") {
		t.Fatalf("args = %v, want --vad-filter", args)
	}
}

func TestToPCM16Clamps(t *testing.T) {
	got := toPCM16([]float32{0, 1.5, -1.5, 0.5})
	want := []int16{0, 32767, -32768, 16384}
	if !slices.Equal(got, want) {
		t.Fatalf("toPCM16 = %v, want %v", got, want)
	}
}

func TestWhisperMaxContextKeepsPrompt(t *testing.T) {
	cases := []struct {
		name   string
		params Params
		prompt string
		want   int
	}{
		{"conditioning on", Params{ConditionOnPreviousText: true}, "", -1},
		{"conditioning off without prompt", Params{}, "", 0},
		{"conditioning off with prompt", Params{}, "good morning everyone", -1},
	}
	for _, tc := range cases {
		if got := whisperMaxContext(tc.params, tc.prompt); got != tc.want {
			t.Fatalf("%s: max context = %d, want %d", tc.name, got, tc.want)
		}
	}
}
