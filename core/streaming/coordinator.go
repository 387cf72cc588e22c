// Package streaming implements the Streaming Coordinator: a state
// machine that drains a provider's raw token channel, segments it into
// sentences via core/tokenizer, tracks StreamMetrics, and delivers
// chunks to a single sequential consumer over a bounded internal queue
// (a bounded-channel producer/consumer shape with mutex-guarded metrics
// and a paused state). Single producer, single consumer, one backpressure
// policy: block the producer until the consumer catches up.
package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/arborcore/assistant-core/core"
	"github.com/arborcore/assistant-core/core/tokenizer"
)

// State is the Coordinator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StatePaused
	StateInterrupted
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateInterrupted:
		return "interrupted"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultQueueSize bounds the internal chunk queue between the producer
// goroutine (draining provider tokens) and the consumer.
const DefaultQueueSize = 64

// Consumer receives chunks one at a time, never concurrently, in order,
// terminated in every case by the end-of-stream sentinel
// (core.EndOfStreamSentinel).
type Consumer func(core.SentenceChunk)

// Coordinator drives one streaming response from a raw token channel to
// a sequence of sentence chunks delivered to a single consumer.
type Coordinator struct {
	mu            sync.Mutex
	state         State
	metrics       core.StreamMetrics
	queue         chan core.SentenceChunk
	interrupt     chan struct{}
	interruptOnce sync.Once
	detector      *tokenizer.SentenceDetector
	now           func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.queue = make(chan core.SentenceChunk, n)
		}
	}
}

// New creates an idle Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		state:     StateIdle,
		queue:     make(chan core.SentenceChunk, DefaultQueueSize),
		interrupt: make(chan struct{}),
		detector:  tokenizer.New(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the Coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metrics returns a snapshot of the Coordinator's StreamMetrics.
func (c *Coordinator) Metrics() core.StreamMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Interrupt transitions the Coordinator to interrupted. Any chunk
// already queued but not yet observed by the consumer is dropped; the
// producer loop exits on its next observation of the interrupt signal
// and still delivers the end-of-stream sentinel.
func (c *Coordinator) Interrupt() {
	c.mu.Lock()
	if c.state == StateCompleted || c.state == StateError || c.state == StateInterrupted {
		c.mu.Unlock()
		return
	}
	c.state = StateInterrupted
	c.mu.Unlock()

	c.interruptOnce.Do(func() { close(c.interrupt) })
}

// Run drains tokens, one sentence-segmented chunk at a time, invoking
// consume sequentially for each — including the terminal end-of-stream
// sentinel, delivered on every termination path (normal completion,
// upstream error, or interruption). Run blocks until the stream ends or
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, tokens <-chan core.StreamToken, consume Consumer) {
	c.mu.Lock()
	c.metrics.StartTime = c.now()
	c.state = StateStreaming
	c.mu.Unlock()

	go c.produce(ctx, tokens)
	c.drain(ctx, consume)
}

func (c *Coordinator) produce(ctx context.Context, tokens <-chan core.StreamToken) {
	defer close(c.queue)

	index := 0
	finalize := func(final State) {
		c.mu.Lock()
		if c.state != StateInterrupted {
			c.state = final
		}
		c.metrics.EndTime = c.now()
		c.mu.Unlock()
	}

	for {
		select {
		case <-c.interrupt:
			finalize(StateInterrupted)
			return
		case <-ctx.Done():
			finalize(StateInterrupted)
			return
		case tok, ok := <-tokens:
			if !ok {
				c.flushTrailing(&index)
				finalize(StateCompleted)
				return
			}
			if tok.Err != nil {
				finalize(StateError)
				return
			}

			c.mu.Lock()
			if c.metrics.FirstTokenTime.IsZero() {
				c.metrics.FirstTokenTime = c.now()
			}
			c.metrics.TotalTokens++
			c.metrics.TotalCharacters += len(tok.Text)
			c.mu.Unlock()

			for _, s := range c.detector.Add(tok.Text) {
				c.recordSentence()
				c.enqueue(core.SentenceChunk{Text: s.Text, Index: s.Index, Timestamp: c.now()})
				index = s.Index + 1
			}

			if tok.Final {
				c.flushTrailing(&index)
				finalize(StateCompleted)
				return
			}
		}
	}
}

func (c *Coordinator) flushTrailing(index *int) {
	if s := c.detector.Flush(); s != nil {
		c.recordSentence()
		c.enqueue(core.SentenceChunk{Text: s.Text, Index: s.Index, Timestamp: c.now()})
		*index = s.Index + 1
	}
}

func (c *Coordinator) recordSentence() {
	c.mu.Lock()
	if c.metrics.FirstSentenceTime.IsZero() {
		c.metrics.FirstSentenceTime = c.now()
	}
	c.metrics.TotalSentences++
	c.mu.Unlock()
}

// enqueue blocks the producer until the consumer drains room, or the
// interrupt signal fires — the sole backpressure policy this
// Coordinator implements. A queue that is already full at the moment of
// a send transitions the Coordinator to paused for the duration of the
// block, then back to streaming once the consumer catches up.
func (c *Coordinator) enqueue(chunk core.SentenceChunk) {
	select {
	case c.queue <- chunk:
		return
	default:
	}

	c.mu.Lock()
	if c.state == StateStreaming {
		c.state = StatePaused
	}
	c.mu.Unlock()

	select {
	case c.queue <- chunk:
	case <-c.interrupt:
	}

	c.mu.Lock()
	if c.state == StatePaused {
		c.state = StateStreaming
	}
	c.mu.Unlock()
}

func (c *Coordinator) drain(ctx context.Context, consume Consumer) {
	for chunk := range c.queue {
		select {
		case <-c.interrupt:
			continue
		default:
		}
		consume(chunk)
	}
	consume(core.EndOfStreamSentinel())
}
