package protocol

import "time"

// AudioFrame carries little-endian 16-bit PCM from a remote capture device.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   uint64 `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// CaptionUpdate is broadcast for every window that extended the transcript.
type CaptionUpdate struct {
	SessionID   string    `json:"session_id"`
	WindowIndex int       `json:"window_index"`
	WindowStart float64   `json:"window_start_seconds"`
	Text        string    `json:"text"`
	Transcript  string    `json:"transcript,omitempty"`
	Language    string    `json:"language,omitempty"`
	Primary     string    `json:"primary,omitempty"`
	Secondary   string    `json:"secondary,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// CaptionSummary is broadcast once when a session stops.
type CaptionSummary struct {
	SessionID         string    `json:"session_id"`
	Windows           int64     `json:"windows"`
	Emitted           int64     `json:"emitted"`
	InferenceFaults   int64     `json:"inference_faults"`
	TranslationFaults int64     `json:"translation_faults"`
	DroppedSamples    int64     `json:"dropped_samples"`
	Transcript        string    `json:"transcript"`
	Timestamp         time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectCaptionUpdate    = "captions.update"
	SubjectCaptionSummary   = "captions.summary"
)

// AudioFrameSubject is the subject a session's frames arrive on. An empty session matches all.
func AudioFrameSubject(session string) string {
	if session == "" {
		return SubjectAudioFramePrefix + ".>"
	}
	return SubjectAudioFramePrefix + "." + session
}
