package stream

import "sync"

// Window is an immutable snapshot of consecutive samples handed to one inference call.
type Window struct {
	Index   int
	Start   int64 // absolute offset of Samples[0] since the stream started
	Samples []int16
}

// Accumulator owns the audio received but not yet discarded. It grows only by
// Append and shrinks only from the front, by hop drops or by the overflow cap.
type Accumulator struct {
	mu         sync.Mutex
	buf        []int16
	base       int64
	maxSamples int
}

func NewAccumulator(maxSamples int) *Accumulator {
	return &Accumulator{maxSamples: maxSamples}
}

// Append adds samples to the back.
func (a *Accumulator) Append(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, samples...)
}

// Shed drops the oldest samples held beyond the cap and returns how many went.
func (a *Accumulator) Shed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxSamples <= 0 || len(a.buf) <= a.maxSamples {
		return 0
	}
	over := len(a.buf) - a.maxSamples
	a.dropLocked(over)
	return over
}

// TryTakeWindow copies windowLen samples and then drops the oldest hopLen samples.
// It leaves the buffer untouched and returns false while fewer than windowLen samples are held.
func (a *Accumulator) TryTakeWindow(windowLen, hopLen int) (Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if windowLen <= 0 || len(a.buf) < windowLen {
		return Window{}, false
	}
	w := Window{
		Start:   a.base,
		Samples: append([]int16(nil), a.buf[:windowLen]...),
	}
	a.dropLocked(hopLen)
	return w, true
}

func (a *Accumulator) dropLocked(n int) {
	if n > len(a.buf) {
		n = len(a.buf)
	}
	a.buf = append(a.buf[:0], a.buf[n:]...)
	a.base += int64(n)
}

// Len is the number of buffered samples.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Offset is the absolute index of the oldest buffered sample.
func (a *Accumulator) Offset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.base
}
