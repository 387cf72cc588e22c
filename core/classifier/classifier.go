// Package classifier maps request text to a TaskType via a prioritised
// table of keyword families.
package classifier

import (
	"strings"

	"github.com/arborcore/assistant-core/core"
)

// family is one entry in the priority-ordered classification table: a
// keyword set and the minimum number of matches required to win.
type family struct {
	taskType  core.TaskType
	keywords  []string
	threshold int
}

// Priority order: coding -> complex-reasoning -> creative -> fast-query ->
// conversation -> unknown.
var families = []family{
	{
		taskType: core.TaskCoding,
		keywords: []string{
			"code", "function", "bug", "debug", "compile", "syntax", "error",
			"program", "script", "algorithm", "variable", "class", "method",
			"refactor", "python", "golang", "javascript", "typescript", "api",
			"repository", "git", "commit", "stack trace", "exception",
		},
		threshold: 1,
	},
	{
		taskType: core.TaskComplexReasoning,
		keywords: []string{
			"explain", "analyze", "compare", "why", "how does", "reasoning",
			"logic", "proof", "theorem", "philosophy", "implications",
			"trade-off", "tradeoff", "pros and cons", "in depth", "elaborate",
		},
		threshold: 1,
	},
	{
		taskType: core.TaskCreative,
		keywords: []string{
			"write a story", "poem", "creative", "imagine", "fiction",
			"brainstorm", "song", "lyrics", "screenplay", "novel", "character",
		},
		threshold: 1,
	},
	{
		taskType: core.TaskFastQuery,
		keywords: []string{
			"weather", "time", "date", "what is", "who is", "when is",
			"define", "translate", "convert", "calculate", "quick",
		},
		threshold: 1,
	},
	{
		taskType: core.TaskConversation,
		keywords: []string{
			"hello", "hi", "how are you", "thanks", "thank you", "chat",
			"talk", "feel", "opinion",
		},
		threshold: 1,
	},
}

const (
	complexReasoningLengthThreshold = 500
	fastQueryLengthThreshold        = 50
)

var fastQueryOpeners = []string{"what", "who", "when"}

// Classifier classifies request text into a TaskType. It is synchronous
// and pure: it never calls a provider.
type Classifier struct{}

// New returns a Classifier.
func New() *Classifier { return &Classifier{} }

// Classify runs the keyword-family algorithm: the first family whose
// keyword count crosses its threshold wins, in priority order, with
// length-based tie-breaks applied first as a fast path.
func (c *Classifier) Classify(text string) core.TaskType {
	if strings.TrimSpace(text) == "" {
		return core.TaskUnknown
	}

	lower := strings.ToLower(text)

	if len(text) > complexReasoningLengthThreshold {
		return core.TaskComplexReasoning
	}

	if len(text) < fastQueryLengthThreshold && startsWithAny(lower, fastQueryOpeners) {
		return core.TaskFastQuery
	}

	for _, f := range families {
		if countMatches(lower, f.keywords) >= f.threshold {
			return f.taskType
		}
	}

	return core.TaskUnknown
}

func countMatches(lower string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}

func startsWithAny(lower string, openers []string) bool {
	trimmed := strings.TrimSpace(lower)
	for _, o := range openers {
		if strings.HasPrefix(trimmed, o) {
			return true
		}
	}
	return false
}
