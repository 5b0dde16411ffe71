package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestPCM16RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	out, err := DecodePCM16LE(EncodePCM16LE(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
	if _, err := DecodePCM16LE([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for odd length")
	}
}

func TestToFloat32Range(t *testing.T) {
	f := ToFloat32([]int16{-32768, 0, 16384})
	if f[0] != -1 || f[1] != 0 || f[2] != 0.5 {
		t.Fatalf("unexpected conversion %v", f)
	}
}

func TestDownmix(t *testing.T) {
	mono := Downmix([]int16{10, 20, -4, 4, 7}, 2)
	if len(mono) != 2 || mono[0] != 15 || mono[1] != 0 {
		t.Fatalf("unexpected downmix %v", mono)
	}
}

func TestRMSSilence(t *testing.T) {
	if RMS(make([]int16, 100)) != 0 {
		t.Fatal("expected zero energy for silence")
	}
	if RMS([]int16{3, -3, 3, -3}) != 3 {
		t.Fatal("expected rms 3")
	}
}

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	samples := []int16{100, -100, 200, -200}
	if err := WriteWAV(f, samples, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	f.Close()

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		t.Fatal("expected valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if dec.SampleRate != 16000 || len(buf.Data) != len(samples) {
		t.Fatalf("unexpected wav contents: rate=%d len=%d", dec.SampleRate, len(buf.Data))
	}
	if buf.Data[3] != -200 {
		t.Fatalf("unexpected last sample %d", buf.Data[3])
	}
}
