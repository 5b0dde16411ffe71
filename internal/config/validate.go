package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalid marks every configuration error. Callers test for it with errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError names the offending option.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return Invalid("runtime_name", "must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return Invalid("http.port", "must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return Invalid("telemetry.log_level", "must be one of debug|info|warn|error")
	}
	switch cfg.Telemetry.Traces {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return Invalid("telemetry.otlp_endpoint", "must be set when traces=otlp")
		}
	default:
		return Invalid("telemetry.traces", "must be one of none|stdout|otlp")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return Invalid("bus.port", "must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return Invalid("bus.servers", "must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return Invalid("event_store.path", "must not be empty")
		}
	default:
		return Invalid("event_store.retention_mode", "must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return Invalid("event_store.retention_days", "must be >= 0")
	}
	if err := validateAudio(cfg); err != nil {
		return err
	}
	if err := validateStream(cfg); err != nil {
		return err
	}
	if err := validateSTT(cfg); err != nil {
		return err
	}
	if err := validateTranslation(cfg.Translation); err != nil {
		return err
	}
	if cfg.Output.Bus && !cfg.Bus.Enabled {
		return Invalid("output.bus", "requires bus.enabled")
	}
	if cfg.Output.Bus && cfg.Output.Subject == "" {
		return Invalid("output.subject", "must not be empty when output.bus is enabled")
	}
	if cfg.Output.WebSocket && !cfg.HTTP.Enabled {
		return Invalid("output.websocket", "requires http.enabled")
	}
	return nil
}

func validateAudio(cfg Config) error {
	a := cfg.Audio
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return Invalid("audio.sample_rate_hz", "unsupported sample rate %d", a.SampleRate)
	}
	if a.Channels <= 0 {
		return Invalid("audio.channels", "must be positive")
	}
	if a.ChunkMS < 0 {
		return Invalid("audio.chunk_ms", "must be >= 0")
	}
	switch a.Source {
	case "exec":
		if strings.TrimSpace(a.Command) == "" {
			return Invalid("audio.command", "must be set when source=exec")
		}
	case "wav":
		if a.Path == "" {
			return Invalid("audio.path", "must be set when source=wav")
		}
		if _, err := os.Stat(a.Path); err != nil {
			return Invalid("audio.path", "unreadable: %v", err)
		}
	case "bus":
		if !cfg.Bus.Enabled {
			return Invalid("audio.source", "bus source requires bus.enabled")
		}
	default:
		return Invalid("audio.source", "must be one of exec|wav|bus")
	}
	return nil
}

func validateStream(cfg Config) error {
	s := cfg.Stream
	if s.WindowSeconds <= 0 {
		return Invalid("stream.window_seconds", "must be positive")
	}
	if s.HopSeconds <= 0 {
		return Invalid("stream.hop_seconds", "must be positive")
	}
	if s.HopSeconds > s.WindowSeconds {
		return Invalid("stream.hop_seconds", "must not exceed window_seconds (%.3g > %.3g)", s.HopSeconds, s.WindowSeconds)
	}
	if cfg.HopSamples() <= 0 {
		return Invalid("stream.hop_seconds", "is shorter than one sample")
	}
	if s.MaxBufferedSeconds < s.WindowSeconds {
		return Invalid("stream.max_buffered_seconds", "must be >= window_seconds")
	}
	switch s.MergePolicy {
	case MergeNoContext, MergeContextBiased:
	default:
		return Invalid("stream.merge_policy", "must be one of %s|%s", MergeNoContext, MergeContextBiased)
	}
	switch s.OverlapTrim {
	case TrimNone:
	case TrimWordOverlap:
		if s.OverlapMinWords <= 0 {
			return Invalid("stream.overlap_min_words", "must be positive when overlap_trim=%s", TrimWordOverlap)
		}
	default:
		return Invalid("stream.overlap_trim", "must be one of %s|%s", TrimNone, TrimWordOverlap)
	}
	if s.ContextMaxChars < 0 {
		return Invalid("stream.context_max_chars", "must be >= 0")
	}
	if s.ShutdownTimeoutMS <= 0 {
		return Invalid("stream.shutdown_timeout_ms", "must be positive")
	}
	return nil
}

func validateSTT(cfg Config) error {
	s := cfg.STT
	switch s.Mode {
	case "mock":
	case "exec":
		if strings.TrimSpace(s.Command) == "" {
			return Invalid("stt.command", "must be set when mode=exec")
		}
	case "whisper":
		if s.ModelPath == "" {
			return Invalid("stt.model_path", "must be set when mode=whisper")
		}
		if cfg.Audio.SampleRate != 16000 {
			return Invalid("audio.sample_rate_hz", "whisper requires 16000, got %d", cfg.Audio.SampleRate)
		}
	default:
		return Invalid("stt.mode", "must be one of mock|exec|whisper")
	}
	if s.ModelPath != "" {
		if _, err := os.Stat(s.ModelPath); err != nil {
			return Invalid("stt.model_path", "unreadable: %v", err)
		}
	}
	if s.BeamSize < 0 {
		return Invalid("stt.beam_size", "must be >= 0")
	}
	for _, t := range s.Temperatures {
		if t < 0 {
			return Invalid("stt.temperatures", "must not contain negative values")
		}
	}
	if s.TimeoutMS <= 0 {
		return Invalid("stt.timeout_ms", "must be positive")
	}
	return nil
}

func validateTranslation(t TranslationConfig) error {
	if !t.Enabled {
		return nil
	}
	switch t.Mode {
	case "mock":
	case "libretranslate":
		if t.Endpoint == "" {
			return Invalid("translation.endpoint", "must be set when mode=libretranslate")
		}
	case "ollama":
		if t.Endpoint == "" || t.Model == "" {
			return Invalid("translation.endpoint", "and translation.model must be set when mode=ollama")
		}
	case "exec":
		if strings.TrimSpace(t.Command) == "" {
			return Invalid("translation.command", "must be set when mode=exec")
		}
	default:
		return Invalid("translation.mode", "must be one of mock|libretranslate|ollama|exec")
	}
	if t.PrimaryLanguage == "" || t.SecondaryLanguage == "" {
		return Invalid("translation.primary_language", "and secondary_language must both be set")
	}
	if t.PrimaryLanguage == t.SecondaryLanguage {
		return Invalid("translation.secondary_language", "must differ from primary_language")
	}
	if t.TimeoutMS <= 0 {
		return Invalid("translation.timeout_ms", "must be positive")
	}
	return nil
}
