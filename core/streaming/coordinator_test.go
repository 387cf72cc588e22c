package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborcore/assistant-core/core"
)

func collect(t *testing.T, c *Coordinator, tokens <-chan core.StreamToken) []core.SentenceChunk {
	t.Helper()
	var got []core.SentenceChunk
	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), tokens, func(chunk core.SentenceChunk) {
			got = append(got, chunk)
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not finish in time")
	}
	return got
}

func TestCoordinator_SegmentsIntoSentencesAndEndsWithSentinel(t *testing.T) {
	tokens := make(chan core.StreamToken, 4)
	tokens <- core.StreamToken{Text: "Hello there. "}
	tokens <- core.StreamToken{Text: "How are you? "}
	tokens <- core.StreamToken{Final: true}
	close(tokens)

	c := New()
	got := collect(t, c, tokens)

	require.GreaterOrEqual(t, len(got), 1)
	last := got[len(got)-1]
	assert.Equal(t, -1, last.Index)
	assert.True(t, last.IsFinal)
	assert.Equal(t, StateCompleted, c.State())
}

func TestCoordinator_FlushesTrailingFragmentOnCompletion(t *testing.T) {
	tokens := make(chan core.StreamToken, 2)
	tokens <- core.StreamToken{Text: "no terminal punctuation here"}
	tokens <- core.StreamToken{Final: true}
	close(tokens)

	c := New()
	got := collect(t, c, tokens)

	require.Len(t, got, 2)
	assert.Equal(t, "no terminal punctuation here", got[0].Text)
	assert.True(t, got[1].IsFinal)
}

func TestCoordinator_UpstreamErrorTransitionsToErrorStateAndStillSentinels(t *testing.T) {
	tokens := make(chan core.StreamToken, 2)
	tokens <- core.StreamToken{Text: "partial"}
	tokens <- core.StreamToken{Err: assertErr{}}
	close(tokens)

	c := New()
	got := collect(t, c, tokens)

	require.NotEmpty(t, got)
	assert.True(t, got[len(got)-1].IsFinal)
	assert.Equal(t, StateError, c.State())
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestCoordinator_InterruptStopsProducerAndStillSentinels(t *testing.T) {
	tokens := make(chan core.StreamToken)
	c := New()

	done := make(chan struct{})
	var got []core.SentenceChunk
	go func() {
		c.Run(context.Background(), tokens, func(chunk core.SentenceChunk) {
			got = append(got, chunk)
		})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Interrupt()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not finish after interrupt")
	}

	require.NotEmpty(t, got)
	assert.True(t, got[len(got)-1].IsFinal)
	assert.Equal(t, StateInterrupted, c.State())
}

func TestCoordinator_MetricsTrackFirstTokenAndCharacterCounts(t *testing.T) {
	tokens := make(chan core.StreamToken, 2)
	tokens <- core.StreamToken{Text: "Hi. "}
	tokens <- core.StreamToken{Final: true}
	close(tokens)

	c := New()
	collect(t, c, tokens)

	m := c.Metrics()
	assert.False(t, m.FirstTokenTime.IsZero())
	assert.False(t, m.EndTime.IsZero())
	assert.Equal(t, 2, m.TotalTokens)
	assert.GreaterOrEqual(t, m.TotalCharacters, 4)
}
