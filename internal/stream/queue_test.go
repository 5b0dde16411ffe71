package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loqalabs/loqa-live/internal/audio"
)

func chunkOf(seq uint64, n int) audio.Chunk {
	return audio.Chunk{Seq: seq, Samples: make([]int16, n)}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(0)
	for i := uint64(0); i < 3; i++ {
		if dropped := q.Push(chunkOf(i, 10)); dropped != 0 {
			t.Fatalf("unbounded queue dropped %d", dropped)
		}
	}
	if q.Samples() != 30 || q.Len() != 3 {
		t.Fatalf("len=%d samples=%d", q.Len(), q.Samples())
	}
	for want := uint64(0); want < 3; want++ {
		c, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if c.Seq != want {
			t.Fatalf("seq = %d, want %d", c.Seq, want)
		}
	}
}

func TestQueueDropsOldestOverCap(t *testing.T) {
	q := NewQueue(25)
	q.Push(chunkOf(0, 10))
	q.Push(chunkOf(1, 10))
	if dropped := q.Push(chunkOf(2, 10)); dropped != 10 {
		t.Fatalf("dropped = %d, want 10", dropped)
	}
	c, _ := q.TryPop()
	if c.Seq != 1 {
		t.Fatalf("oldest seq = %d, want 1", c.Seq)
	}
}

func TestQueueKeepsNewestChunkEvenIfOversized(t *testing.T) {
	q := NewQueue(5)
	q.Push(chunkOf(0, 4))
	if dropped := q.Push(chunkOf(1, 50)); dropped != 4 {
		t.Fatalf("dropped = %d, want 4", dropped)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
}

func TestQueuePopWaitsForPush(t *testing.T) {
	q := NewQueue(0)
	got := make(chan uint64, 1)
	go func() {
		c, err := q.Pop(context.Background())
		if err == nil {
			got <- c.Seq
		}
	}()
	time.Sleep(20 * time.Millisecond)
	q.Push(chunkOf(7, 1))
	select {
	case seq := <-got:
		if seq != 7 {
			t.Fatalf("seq = %d, want 7", seq)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestQueuePopCancelled(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pop ignored cancellation")
	}
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	q := NewQueue(0)
	q.Push(chunkOf(0, 1))
	q.Close()
	if dropped := q.Push(chunkOf(1, 1)); dropped != 0 || q.Len() != 1 {
		t.Fatalf("push after close accepted: len=%d", q.Len())
	}
	if _, err := q.Pop(context.Background()); err != nil {
		t.Fatalf("pop queued chunk: %v", err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}
