//go:build !whisper_cpp

package stt

import (
	"errors"
	"log/slog"

	"github.com/loqalabs/loqa-live/internal/config"
)

// ErrWhisperUnavailable is returned when the binary was built without whisper.cpp.
var ErrWhisperUnavailable = errors.New("whisper mode requires a build with -tags whisper_cpp")

func NewWhisperRecognizer(config.STTConfig, *slog.Logger) (Recognizer, error) {
	return nil, ErrWhisperUnavailable
}
