package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ExecTranslator runs an external program per fragment. The request is written to
// stdin as JSON and the program prints {"text": "..."} on stdout.
type ExecTranslator struct {
	cmd []string
}

type execRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type execResponse struct {
	Text string `json:"text"`
}

func NewExecTranslator(command string) (*ExecTranslator, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command is empty")
	}
	return &ExecTranslator{cmd: args}, nil
}

func (e *ExecTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	payload, err := json.Marshal(execRequest{Text: text, Source: source, Target: target})
	if err != nil {
		return "", err
	}
	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("translation command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	return resp.Text, nil
}
