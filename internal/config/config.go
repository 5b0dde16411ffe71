package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	MergeNoContext     = "no-context"
	MergeContextBiased = "context-biased"

	TrimNone        = "none"
	TrimWordOverlap = "word-overlap"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	Traces       string `yaml:"traces"` // none, stdout, otlp
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Audio       AudioConfig       `yaml:"audio"`
	Stream      StreamConfig      `yaml:"stream"`
	STT         STTConfig         `yaml:"stt"`
	Translation TranslationConfig `yaml:"translation"`
	Output      OutputConfig      `yaml:"output"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig selects and shapes the capture source.
type AudioConfig struct {
	Source     string `yaml:"source"` // exec, wav, bus
	Command    string `yaml:"command"`
	Path       string `yaml:"path"`
	Realtime   bool   `yaml:"realtime"`
	SampleRate int    `yaml:"sample_rate_hz"`
	Channels   int    `yaml:"channels"`
	ChunkMS    int    `yaml:"chunk_ms"`
	Session    string `yaml:"session"`
}

// StreamConfig drives windowing and transcript merging.
type StreamConfig struct {
	WindowSeconds      float64 `yaml:"window_seconds"`
	HopSeconds         float64 `yaml:"hop_seconds"`
	MaxBufferedSeconds float64 `yaml:"max_buffered_seconds"`
	MergePolicy        string  `yaml:"merge_policy"`
	OverlapTrim        string  `yaml:"overlap_trim"`
	OverlapMinWords    int     `yaml:"overlap_min_words"`
	ContextMaxChars    int     `yaml:"context_max_chars"`
	DrainOnShutdown    bool    `yaml:"drain_on_shutdown"`
	ShutdownTimeoutMS  int     `yaml:"shutdown_timeout_ms"`
}

// STTConfig is handed to the recognizer; decoding parameters are passed through untouched.
type STTConfig struct {
	Mode                      string    `yaml:"mode"` // mock, exec, whisper
	Command                   string    `yaml:"command"`
	Model                     string    `yaml:"model"`
	ModelPath                 string    `yaml:"model_path"`
	Device                    string    `yaml:"device"`
	ComputeType               string    `yaml:"compute_type"`
	Language                  string    `yaml:"language"`
	Threads                   int       `yaml:"threads"`
	BeamSize                  int       `yaml:"beam_size"`
	Temperatures              []float64 `yaml:"temperatures"`
	CompressionRatioThreshold float64   `yaml:"compression_ratio_threshold"`
	NoSpeechThreshold         float64   `yaml:"no_speech_threshold"`
	VADFilter                 bool      `yaml:"vad_filter"`
	ConditionOnPreviousText   bool      `yaml:"condition_on_previous_text"`
	TimeoutMS                 int       `yaml:"timeout_ms"`
	Warmup                    bool      `yaml:"warmup"`
}

type TranslationConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Mode              string  `yaml:"mode"` // mock, libretranslate, ollama, exec
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"` // ollama only
	Command           string  `yaml:"command"`
	PrimaryLanguage   string  `yaml:"primary_language"`
	SecondaryLanguage string  `yaml:"secondary_language"`
	MinConfidence     float64 `yaml:"min_confidence"`
	TimeoutMS         int     `yaml:"timeout_ms"`
}

type OutputConfig struct {
	Console   bool   `yaml:"console"`
	Color     bool   `yaml:"color"`
	Bus       bool   `yaml:"bus"`
	Subject   string `yaml:"subject"`
	WebSocket bool   `yaml:"websocket"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-live",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8089,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			Traces:       "none",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-live-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Audio: AudioConfig{
			Source:     "exec",
			Command:    "arecord -q -t raw -f S16_LE -c 1 -r 16000",
			SampleRate: 16000,
			Channels:   1,
		},
		Stream: StreamConfig{
			WindowSeconds:      8,
			HopSeconds:         2,
			MaxBufferedSeconds: 60,
			MergePolicy:        MergeNoContext,
			OverlapTrim:        TrimNone,
			OverlapMinWords:    2,
			ContextMaxChars:    500,
			DrainOnShutdown:    true,
			ShutdownTimeoutMS:  5000,
		},
		STT: STTConfig{
			Mode:                      "mock",
			Model:                     "large-v3",
			Device:                    "cuda",
			ComputeType:               "float16",
			BeamSize:                  3,
			Temperatures:              []float64{0.0},
			CompressionRatioThreshold: 2.4,
			NoSpeechThreshold:         0.6,
			ConditionOnPreviousText:   true,
			TimeoutMS:                 30000,
			Warmup:                    true,
		},
		Translation: TranslationConfig{
			Enabled:           false,
			Mode:              "mock",
			Endpoint:          "http://localhost:5000",
			Model:             "llama3.2:latest",
			PrimaryLanguage:   "en",
			SecondaryLanguage: "es",
			MinConfidence:     0.2,
			TimeoutMS:         8000,
		},
		Output: OutputConfig{
			Console: true,
			Color:   true,
			Subject: "captions.update",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WindowSamples is the window length in samples.
func (c Config) WindowSamples() int {
	return seconds(c.Stream.WindowSeconds, c.Audio.SampleRate)
}

// HopSamples is the hop length in samples.
func (c Config) HopSamples() int {
	return seconds(c.Stream.HopSeconds, c.Audio.SampleRate)
}

// MaxBufferedSamples is the overflow threshold shared by the chunk queue and the accumulator.
func (c Config) MaxBufferedSamples() int {
	return seconds(c.Stream.MaxBufferedSeconds, c.Audio.SampleRate)
}

// ChunkSamples is the capture block size; it defaults to one hop like the capture callback it replaces.
func (c Config) ChunkSamples() int {
	if c.Audio.ChunkMS > 0 {
		return c.Audio.SampleRate * c.Audio.ChunkMS / 1000
	}
	return c.HopSamples()
}

func seconds(s float64, rate int) int {
	return int(math.Round(s * float64(rate)))
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.Traces, "LOQA_TELEMETRY_TRACES")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.Source, "LOQA_AUDIO_SOURCE")
	overrideString(&cfg.Audio.Command, "LOQA_AUDIO_COMMAND")
	overrideString(&cfg.Audio.Path, "LOQA_AUDIO_PATH")
	overrideBool(&cfg.Audio.Realtime, "LOQA_AUDIO_REALTIME")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE_HZ")
	overrideInt(&cfg.Audio.Channels, "LOQA_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.ChunkMS, "LOQA_AUDIO_CHUNK_MS")
	overrideString(&cfg.Audio.Session, "LOQA_AUDIO_SESSION")
	overrideFloat(&cfg.Stream.WindowSeconds, "LOQA_STREAM_WINDOW_SECONDS")
	overrideFloat(&cfg.Stream.HopSeconds, "LOQA_STREAM_HOP_SECONDS")
	overrideFloat(&cfg.Stream.MaxBufferedSeconds, "LOQA_STREAM_MAX_BUFFERED_SECONDS")
	overrideString(&cfg.Stream.MergePolicy, "LOQA_STREAM_MERGE_POLICY")
	overrideString(&cfg.Stream.OverlapTrim, "LOQA_STREAM_OVERLAP_TRIM")
	overrideInt(&cfg.Stream.OverlapMinWords, "LOQA_STREAM_OVERLAP_MIN_WORDS")
	overrideInt(&cfg.Stream.ContextMaxChars, "LOQA_STREAM_CONTEXT_MAX_CHARS")
	overrideBool(&cfg.Stream.DrainOnShutdown, "LOQA_STREAM_DRAIN_ON_SHUTDOWN")
	overrideInt(&cfg.Stream.ShutdownTimeoutMS, "LOQA_STREAM_SHUTDOWN_TIMEOUT_MS")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Device, "LOQA_STT_DEVICE")
	overrideString(&cfg.STT.ComputeType, "LOQA_STT_COMPUTE_TYPE")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.Threads, "LOQA_STT_THREADS")
	overrideInt(&cfg.STT.BeamSize, "LOQA_STT_BEAM_SIZE")
	overrideFloatSlice(&cfg.STT.Temperatures, "LOQA_STT_TEMPERATURES")
	overrideFloat(&cfg.STT.CompressionRatioThreshold, "LOQA_STT_COMPRESSION_RATIO_THRESHOLD")
	overrideFloat(&cfg.STT.NoSpeechThreshold, "LOQA_STT_NO_SPEECH_THRESHOLD")
	overrideBool(&cfg.STT.VADFilter, "LOQA_STT_VAD_FILTER")
	overrideBool(&cfg.STT.ConditionOnPreviousText, "LOQA_STT_CONDITION_ON_PREVIOUS_TEXT")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideBool(&cfg.STT.Warmup, "LOQA_STT_WARMUP")
	overrideBool(&cfg.Translation.Enabled, "LOQA_TRANSLATION_ENABLED")
	overrideString(&cfg.Translation.Mode, "LOQA_TRANSLATION_MODE")
	overrideString(&cfg.Translation.Endpoint, "LOQA_TRANSLATION_ENDPOINT")
	overrideString(&cfg.Translation.Model, "LOQA_TRANSLATION_MODEL")
	overrideString(&cfg.Translation.Command, "LOQA_TRANSLATION_COMMAND")
	overrideString(&cfg.Translation.PrimaryLanguage, "LOQA_TRANSLATION_PRIMARY_LANGUAGE")
	overrideString(&cfg.Translation.SecondaryLanguage, "LOQA_TRANSLATION_SECONDARY_LANGUAGE")
	overrideFloat(&cfg.Translation.MinConfidence, "LOQA_TRANSLATION_MIN_CONFIDENCE")
	overrideInt(&cfg.Translation.TimeoutMS, "LOQA_TRANSLATION_TIMEOUT_MS")
	overrideBool(&cfg.Output.Console, "LOQA_OUTPUT_CONSOLE")
	overrideBool(&cfg.Output.Color, "LOQA_OUTPUT_COLOR")
	overrideBool(&cfg.Output.Bus, "LOQA_OUTPUT_BUS")
	overrideString(&cfg.Output.Subject, "LOQA_OUTPUT_SUBJECT")
	overrideBool(&cfg.Output.WebSocket, "LOQA_OUTPUT_WEBSOCKET")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideFloatSlice(target *[]float64, envKey string) {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return
	}
	var parsed []float64
	for _, p := range strings.Split(value, ",") {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return
		}
		parsed = append(parsed, f)
	}
	if len(parsed) > 0 {
		*target = parsed
	}
}
