package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/mattn/go-shellwords"
)

// ExecSource reads raw little-endian PCM16 from the stdout of a recorder such as arecord.
// Lines written to stderr are treated as device status and reported as faults.
type ExecSource struct {
	cmd          []string
	channels     int
	chunkSamples int
	logger       *slog.Logger
	onFault      FaultFunc
}

func NewExecSource(cfg config.AudioConfig, chunkSamples int, logger *slog.Logger, onFault FaultFunc) (*ExecSource, error) {
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	if chunkSamples <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	channels := max(cfg.Channels, 1)
	if logger == nil {
		logger = slog.Default()
	}
	if onFault == nil {
		onFault = ignoreFault
	}
	return &ExecSource{cmd: args, channels: channels, chunkSamples: chunkSamples, logger: logger, onFault: onFault}, nil
}

func (s *ExecSource) Run(ctx context.Context, emit func(audio.Chunk)) error {
	command := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout: %w", err)
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture stderr: %w", err)
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("start capture command: %w", err)
	}
	s.logger.Info("capture started", slog.String("command", strings.Join(s.cmd, " ")))

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			s.logger.Warn("capture status", slog.String("message", line))
			s.onFault(errors.New(line))
		}
	}()

	readErr := s.pump(stdout, emit)
	<-statusDone
	waitErr := command.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("capture command exited: %w", waitErr)
	}
	s.logger.Info("capture input ended")
	return nil
}

func (s *ExecSource) pump(r io.Reader, emit func(audio.Chunk)) error {
	frameBytes := 2 * s.channels
	buf := make([]byte, s.chunkSamples*frameBytes)
	var seq uint64
	for {
		n, err := io.ReadFull(r, buf)
		if n -= n % frameBytes; n > 0 {
			samples, decodeErr := audio.DecodePCM16LE(buf[:n])
			if decodeErr != nil {
				return decodeErr
			}
			emit(audio.Chunk{Seq: seq, Samples: audio.Downmix(samples, s.channels)})
			seq++
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe):
			return nil
		default:
			return fmt.Errorf("read capture stream: %w", err)
		}
	}
}
