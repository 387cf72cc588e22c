package fingerprint

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborcore/assistant-core/core"
)

func msgs(texts ...string) []core.Message {
	out := make([]core.Message, len(texts))
	for i, t := range texts {
		out[i] = core.Message{Role: core.RoleUser, Text: t}
	}
	return out
}

func TestFingerprint_CaseWhitespaceFillerInvariant(t *testing.T) {
	n := New()
	a := n.Fingerprint(msgs("What is the weather?"))
	b := n.Fingerprint(msgs("  WHAT   is the   weather?  "))
	c := n.Fingerprint(msgs("Could you what is the weather?"))

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestFingerprint_DifferentContentDiffers(t *testing.T) {
	n := New()
	a := n.Fingerprint(msgs("What is the weather?"))
	b := n.Fingerprint(msgs("What is the news?"))
	assert.NotEqual(t, a, b)
}

func TestFingerprint_EmptyMessagesIsDeterministic(t *testing.T) {
	n := New()
	a := n.Fingerprint(nil)
	b := n.Fingerprint([]core.Message{})
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestFingerprint_AssistantNameStripped(t *testing.T) {
	n := New(WithAssistantName("jarvis"))
	a := n.Fingerprint(msgs("jarvis what time is it"))
	b := n.Fingerprint(msgs("what time is it"))
	assert.Equal(t, a, b)
}

// Round-trip law: fingerprint(x) == fingerprint(canonicalize(x)).
func TestFingerprint_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	n := New()

	properties.Property("fingerprint is stable across re-canonicalization", prop.ForAll(
		func(text string) bool {
			canonical := n.Canonicalize(text)
			return n.Fingerprint(msgs(text)) == n.Fingerprint(msgs(canonical))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestFingerprint_Of(t *testing.T) {
	require.Equal(t, New().Fingerprint(msgs("hi")), Of(msgs("hi")))
}
