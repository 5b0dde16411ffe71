package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer hands each window to an external program as a WAV file and reads JSON back.
type execRecognizer struct {
	cmd []string
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, req Request) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "loqa_live_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, toPCM16(req.Samples), req.SampleRate); err != nil {
		return TranscriptResult{}, err
	}

	cmdArgs := append(append([]string{}, r.cmd[1:]...), "--audio", file.Name())
	cmdArgs = append(cmdArgs, paramArgs(req)...)

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Language: resp.Language, Confidence: resp.Confidence}, nil
}

func paramArgs(req Request) []string {
	p := req.Params
	var args []string
	add := func(flag, value string) {
		if value != "" {
			args = append(args, flag, value)
		}
	}
	model := p.ModelPath
	if model == "" {
		model = p.Model
	}
	add("--model", model)
	add("--language", p.Language)
	add("--device", p.Device)
	add("--compute-type", p.ComputeType)
	add("--prompt", req.Prompt)
	if p.Threads > 0 {
		add("--threads", strconv.Itoa(p.Threads))
	}
	if p.BeamSize > 0 {
		add("--beam-size", strconv.Itoa(p.BeamSize))
	}
	if len(p.Temperatures) > 0 {
		temps := make([]string, len(p.Temperatures))
		for i, t := range p.Temperatures {
			temps[i] = strconv.FormatFloat(t, 'f', -1, 64)
		}
		add("--temperature", strings.Join(temps, ","))
	}
	if p.CompressionRatioThreshold > 0 {
		add("--compression-ratio-threshold", strconv.FormatFloat(p.CompressionRatioThreshold, 'f', -1, 64))
	}
	if p.NoSpeechThreshold > 0 {
		add("--no-speech-threshold", strconv.FormatFloat(p.NoSpeechThreshold, 'f', -1, 64))
	}
	if p.VADFilter {
		args = append(args, "--vad-filter")
	}
	args = append(args, "--condition-on-previous-text="+strconv.FormatBool(p.ConditionOnPreviousText))
	return args
}

func toPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		out[i] = int16(max(math.MinInt16, min(math.MaxInt16, v)))
	}
	return out
}
