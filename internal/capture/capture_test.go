package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/bus"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/natsserver"
	"github.com/loqalabs/loqa-live/internal/protocol"
)

type chunkLog struct {
	mu     sync.Mutex
	chunks []audio.Chunk
}

func (c *chunkLog) emit(chunk audio.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *chunkLog) sizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.chunks))
	for i, ch := range c.chunks {
		out[i] = ch.Len()
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestChunkerRegroups(t *testing.T) {
	var log chunkLog
	c := newChunker(4, log.emit)
	c.add([]int16{1, 2, 3})
	c.add([]int16{4, 5, 6, 7, 8, 9})
	c.flush()
	if got := log.sizes(); !equalInts(got, []int{4, 4, 1}) {
		t.Fatalf("sizes = %v", got)
	}
	for i, ch := range log.chunks {
		if ch.Seq != uint64(i) {
			t.Fatalf("chunk %d seq = %d", i, ch.Seq)
		}
	}
	if log.chunks[1].Samples[0] != 5 || log.chunks[2].Samples[0] != 9 {
		t.Fatalf("chunks = %v", log.chunks)
	}
}

func writeTestWAV(t *testing.T, samples []int16, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, samples, rate); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestWAVSource(t *testing.T) {
	samples := make([]int16, 10)
	for i := range samples {
		samples[i] = int16(i * 100)
	}
	path := writeTestWAV(t, samples, 16000)

	src, err := New(config.AudioConfig{Source: "wav", Path: path, SampleRate: 16000}, 4, nil, slog.Default(), nil)
	if err != nil {
		t.Fatalf("new wav source: %v", err)
	}
	var log chunkLog
	if err := src.Run(context.Background(), log.emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := log.sizes(); !equalInts(got, []int{4, 4, 2}) {
		t.Fatalf("sizes = %v", got)
	}
	if log.chunks[2].Samples[1] != 900 {
		t.Fatalf("last sample = %d, want 900", log.chunks[2].Samples[1])
	}
}

func TestWAVSourceRejectsSampleRateMismatch(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 8), 8000)
	if _, err := NewWAVSource(config.AudioConfig{Path: path, SampleRate: 16000}, 4, slog.Default()); err == nil {
		t.Fatal("expected sample rate mismatch error")
	}
}

func TestWAVSourceMissingFile(t *testing.T) {
	if _, err := NewWAVSource(config.AudioConfig{Path: filepath.Join(t.TempDir(), "nope.wav"), SampleRate: 16000}, 4, slog.Default()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestExecSourceChunksStdout(t *testing.T) {
	requireShell(t)
	src, err := NewExecSource(config.AudioConfig{Command: "head -c 10 /dev/zero", Channels: 1}, 2, slog.Default(), nil)
	if err != nil {
		t.Fatalf("new exec source: %v", err)
	}
	var log chunkLog
	if err := src.Run(context.Background(), log.emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := log.sizes(); !equalInts(got, []int{2, 2, 1}) {
		t.Fatalf("sizes = %v", got)
	}
}

func TestExecSourceStereoDownmix(t *testing.T) {
	requireShell(t)
	src, err := NewExecSource(config.AudioConfig{Command: "head -c 16 /dev/zero", Channels: 2}, 2, slog.Default(), nil)
	if err != nil {
		t.Fatalf("new exec source: %v", err)
	}
	var log chunkLog
	if err := src.Run(context.Background(), log.emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := log.sizes(); !equalInts(got, []int{2, 2}) {
		t.Fatalf("sizes = %v", got)
	}
}

func TestExecSourceReportsStderrAsFaults(t *testing.T) {
	requireShell(t)
	var mu sync.Mutex
	var faults []string
	onFault := func(err error) {
		mu.Lock()
		faults = append(faults, err.Error())
		mu.Unlock()
	}
	src, err := NewExecSource(config.AudioConfig{Command: `sh -c "echo overrun >&2; head -c 4 /dev/zero"`}, 2, slog.Default(), onFault)
	if err != nil {
		t.Fatalf("new exec source: %v", err)
	}
	var log chunkLog
	if err := src.Run(context.Background(), log.emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(faults) != 1 || faults[0] != "overrun" {
		t.Fatalf("faults = %v", faults)
	}
	if got := log.sizes(); !equalInts(got, []int{2}) {
		t.Fatalf("sizes = %v", got)
	}
}

func TestExecSourceFailure(t *testing.T) {
	requireShell(t)
	src, err := NewExecSource(config.AudioConfig{Command: `sh -c "exit 3"`}, 2, slog.Default(), nil)
	if err != nil {
		t.Fatalf("new exec source: %v", err)
	}
	if err := src.Run(context.Background(), func(audio.Chunk) {}); err == nil {
		t.Fatal("expected error from failing capture command")
	}
}

func TestNewRejectsUnknownSource(t *testing.T) {
	if _, err := New(config.AudioConfig{Source: "pulse"}, 4, nil, nil, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New(config.AudioConfig{Source: "bus"}, 4, nil, nil, nil); err == nil {
		t.Fatal("expected error without bus client")
	}
}

func TestBusSource(t *testing.T) {
	logger := slog.Default()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	defer srv.Shutdown()

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "capture-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	src := NewBusSource(config.AudioConfig{SampleRate: 16000, Session: "kitchen"}, 4, client, logger, nil)
	var log chunkLog
	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), log.emit) }()
	time.Sleep(100 * time.Millisecond)

	publish := func(frame protocol.AudioFrame) {
		data, err := json.Marshal(frame)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := client.Conn().Publish(protocol.AudioFrameSubject("kitchen"), data); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	publish(protocol.AudioFrame{SessionID: "kitchen", Sequence: 0, SampleRate: 16000, Channels: 1, PCM: audio.EncodePCM16LE(make([]int16, 6))})
	publish(protocol.AudioFrame{SessionID: "kitchen", Sequence: 1, SampleRate: 8000, Channels: 1, PCM: audio.EncodePCM16LE(make([]int16, 6))})
	publish(protocol.AudioFrame{SessionID: "kitchen", Sequence: 2, SampleRate: 16000, Channels: 1, PCM: audio.EncodePCM16LE(make([]int16, 3)), Final: true})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("bus source did not stop on final frame")
	}
	if got := log.sizes(); !equalInts(got, []int{4, 4, 1}) {
		t.Fatalf("sizes = %v", got)
	}
}

func TestBusSourceReportsFaults(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, slog.Default())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	defer srv.Shutdown()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "capture-fault-test", slog.Default())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var faults []error
	onFault := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		faults = append(faults, err)
	}
	src := NewBusSource(config.AudioConfig{SampleRate: 16000, Session: "hall"}, 4, client, nil, onFault)
	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), func(audio.Chunk) {}) }()
	time.Sleep(100 * time.Millisecond)

	for _, frame := range []protocol.AudioFrame{
		{SessionID: "hall", Sequence: 0, SampleRate: 44100, Channels: 1, PCM: audio.EncodePCM16LE(make([]int16, 4))},
		{SessionID: "hall", Sequence: 1, SampleRate: 16000, Channels: 1, PCM: []byte{1, 2, 3}},
		{SessionID: "hall", Sequence: 2, SampleRate: 16000, Channels: 1, PCM: audio.EncodePCM16LE(make([]int16, 4)), Final: true},
	} {
		data, err := json.Marshal(frame)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := client.Conn().Publish(protocol.AudioFrameSubject("hall"), data); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("bus source did not stop on final frame")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(faults) != 2 {
		t.Fatalf("faults = %v, want 2", faults)
	}
}
