// Package fingerprint canonicalizes requests into stable cache keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/arborcore/assistant-core/core"
)

// DefaultFillerWords is the closed set of vocative filler words stripped
// during canonicalization, plus the configured assistant name.
var DefaultFillerWords = []string{"please", "can you", "could you", "would you"}

// Normalizer canonicalizes message text before it is digested into a
// fingerprint. It is a pure function: deterministic across processes, and
// two inputs differing only in casing, extra whitespace, or the presence
// of a configured filler word produce the same output.
type Normalizer struct {
	fillerWords   []string
	assistantName string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithFillerWords overrides the default filler-word set.
func WithFillerWords(words []string) Option {
	return func(n *Normalizer) { n.fillerWords = words }
}

// WithAssistantName adds the assistant's own name to the filler-word set
// (e.g. "jarvis", "assistant").
func WithAssistantName(name string) Option {
	return func(n *Normalizer) { n.assistantName = strings.ToLower(name) }
}

// New builds a Normalizer with the given options.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		fillerWords:   append([]string{}, DefaultFillerWords...),
		assistantName: "assistant",
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Canonicalize lower-cases text, collapses whitespace runs, and strips
// the filler-word set.
func (n *Normalizer) Canonicalize(text string) string {
	s := strings.ToLower(text)

	words := n.fillerWords
	if n.assistantName != "" {
		words = append(append([]string{}, words...), n.assistantName)
	}
	for _, w := range words {
		s = strings.ReplaceAll(s, w, "")
	}

	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// CanonicalizeMessages canonicalizes every message in order and joins them
// with a role-tagged separator so that role changes are part of the
// canonical form (two requests differing only in role assignment must not
// collide).
func (n *Normalizer) CanonicalizeMessages(messages []core.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteByte(':')
		b.WriteString(n.Canonicalize(m.Text))
		b.WriteByte('\n')
	}
	return b.String()
}

// Fingerprint computes a fixed-width digest from the canonical form of a
// request's messages. Two requests with the same fingerprint share the
// same cached response.
func (n *Normalizer) Fingerprint(messages []core.Message) string {
	canonical := n.CanonicalizeMessages(messages)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Of is a package-level convenience using a default Normalizer, useful for
// callers that do not need custom filler words.
func Of(messages []core.Message) string {
	return New().Fingerprint(messages)
}
