package stream

import (
	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
)

// Scheduler turns arriving chunks into windows. It has a single draining state:
// after every append it takes windows until the accumulator runs short.
type Scheduler struct {
	acc    *Accumulator
	window int
	hop    int
	next   int
}

func NewScheduler(windowSamples, hopSamples, maxSamples int) (*Scheduler, error) {
	if windowSamples <= 0 {
		return nil, config.Invalid("stream.window_seconds", "must cover at least one sample")
	}
	if hopSamples <= 0 {
		return nil, config.Invalid("stream.hop_seconds", "must cover at least one sample")
	}
	if hopSamples > windowSamples {
		return nil, config.Invalid("stream.hop_seconds", "must not exceed window (%d > %d samples)", hopSamples, windowSamples)
	}
	if maxSamples > 0 && maxSamples < windowSamples {
		return nil, config.Invalid("stream.max_buffered_seconds", "must hold at least one window")
	}
	return &Scheduler{
		acc:    NewAccumulator(maxSamples),
		window: windowSamples,
		hop:    hopSamples,
	}, nil
}

// Offer appends the chunk and dispatches every window it completes, in order.
// The cap is applied only to what is left afterwards, so windows consumed here
// never lose audio. It returns the number of samples dropped to respect the cap.
func (s *Scheduler) Offer(chunk audio.Chunk, dispatch func(Window)) int {
	s.acc.Append(chunk.Samples)
	for {
		w, ok := s.acc.TryTakeWindow(s.window, s.hop)
		if !ok {
			return s.acc.Shed()
		}
		w.Index = s.next
		s.next++
		dispatch(w)
	}
}

// Buffered is the number of samples waiting for the next window.
func (s *Scheduler) Buffered() int { return s.acc.Len() }

// Windows is the number of windows produced so far.
func (s *Scheduler) Windows() int { return s.next }
