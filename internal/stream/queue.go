package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/loqalabs/loqa-live/internal/audio"
)

// ErrQueueClosed is returned by Pop once the queue is closed and empty.
var ErrQueueClosed = errors.New("chunk queue closed")

// Queue is the unbounded FIFO between the capture goroutine and the pipeline.
// Push never blocks. When maxSamples is positive and the queued audio exceeds it,
// the oldest chunks are dropped and reported to the caller.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	items      []audio.Chunk
	samples    int
	maxSamples int
	closed     bool
}

func NewQueue(maxSamples int) *Queue {
	q := &Queue{maxSamples: maxSamples}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a chunk and returns how many queued samples were discarded to stay under the cap.
func (q *Queue) Push(c audio.Chunk) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.items = append(q.items, c)
	q.samples += c.Len()

	dropped := 0
	for q.maxSamples > 0 && q.samples > q.maxSamples && len(q.items) > 1 {
		oldest := q.items[0]
		q.items[0] = audio.Chunk{}
		q.items = q.items[1:]
		q.samples -= oldest.Len()
		dropped += oldest.Len()
	}
	q.cond.Signal()
	return dropped
}

// Pop blocks until a chunk is available, the queue is closed and drained, or ctx is done.
func (q *Queue) Pop(ctx context.Context) (audio.Chunk, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return audio.Chunk{}, err
		}
		if len(q.items) > 0 {
			return q.popLocked(), nil
		}
		if q.closed {
			return audio.Chunk{}, ErrQueueClosed
		}
		q.cond.Wait()
	}
}

// TryPop returns the oldest chunk without waiting.
func (q *Queue) TryPop() (audio.Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return audio.Chunk{}, false
	}
	return q.popLocked(), true
}

func (q *Queue) popLocked() audio.Chunk {
	c := q.items[0]
	q.items[0] = audio.Chunk{}
	q.items = q.items[1:]
	q.samples -= c.Len()
	return c
}

// Close wakes any waiting consumer. Chunks already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len is the number of queued chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Samples is the number of queued samples.
func (q *Queue) Samples() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.samples
}
