package cache

import (
	"regexp"
	"strings"
	"time"

	"github.com/arborcore/assistant-core/core"
)

// TemplateHandler produces a canned Response for a matched L0 prompt. It
// never calls a provider and never blocks.
type TemplateHandler func(now time.Time) core.Response

type templateRule struct {
	pattern *regexp.Regexp
	handler func(now time.Time, match []string) core.Response
}

// Templates is the L0 tier: a read-only table of exact lowercased prompt
// to generator-function, plus a small set of regex-with-handler rules.
type Templates struct {
	exact []struct {
		prompts []string
		handler TemplateHandler
	}
	rules []templateRule
}

// NewTemplates builds the canonical L0 template set: time-of-day
// greetings, current time, current date, and a capability enumeration.
func NewTemplates() *Templates {
	t := &Templates{}

	t.addExact([]string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"},
		func(now time.Time) core.Response {
			return core.Response{Text: greeting(now), Terminal: core.ReasonComplete, Cached: true, CacheTier: "l0"}
		})

	t.addExact([]string{"what time is it", "what's the time", "current time"},
		func(now time.Time) core.Response {
			return core.Response{Text: "It's " + now.Format("3:04 PM") + ".", Terminal: core.ReasonComplete, Cached: true, CacheTier: "l0"}
		})

	t.addExact([]string{"what is the date", "what's the date", "what day is it"},
		func(now time.Time) core.Response {
			return core.Response{Text: "Today is " + now.Format("Monday, January 2, 2006") + ".", Terminal: core.ReasonComplete, Cached: true, CacheTier: "l0"}
		})

	t.addExact([]string{"what can you do", "help", "what are your capabilities"},
		func(now time.Time) core.Response {
			return core.Response{
				Text: "I can answer questions, check the weather, read the news, manage your " +
					"calendar, control connected devices, and have a conversation.",
				Terminal: core.ReasonComplete, Cached: true, CacheTier: "l0",
			}
		})

	// Grounded in original_source: a timezone-qualified time query is
	// recognised but has no local timezone database to answer from; real
	// lookup is an external collaborator's job (out of scope), so this
	// rule returns a clarifying stub rather than a wrong answer.
	t.rules = append(t.rules, templateRule{
		pattern: regexp.MustCompile(`what time is it in ([a-z ]+)`),
		handler: func(now time.Time, match []string) core.Response {
			city := strings.TrimSpace(match[1])
			return core.Response{
				Text:     "I don't have timezone data for " + city + " configured yet.",
				Terminal: core.ReasonComplete, Cached: true, CacheTier: "l0",
			}
		},
	})

	return t
}

func (t *Templates) addExact(prompts []string, handler TemplateHandler) {
	t.exact = append(t.exact, struct {
		prompts []string
		handler TemplateHandler
	}{prompts: prompts, handler: handler})
}

// Lookup returns a canned Response for lowercasedPrompt if one exists.
func (t *Templates) Lookup(lowercasedPrompt string) (core.Response, bool) {
	now := time.Now()
	trimmed := strings.TrimSpace(lowercasedPrompt)

	for _, group := range t.exact {
		for _, p := range group.prompts {
			if trimmed == p {
				return group.handler(now), true
			}
		}
	}

	for _, rule := range t.rules {
		if m := rule.pattern.FindStringSubmatch(trimmed); m != nil {
			return rule.handler(now, m), true
		}
	}

	return core.Response{}, false
}

// greeting selects a time-of-day-sensitive greeting: 5-12 morning, 12-17
// afternoon, 17-21 evening, else generic.
func greeting(now time.Time) string {
	h := now.Hour()
	switch {
	case h >= 5 && h < 12:
		return "Good morning!"
	case h >= 12 && h < 17:
		return "Good afternoon!"
	case h >= 17 && h < 21:
		return "Good evening!"
	default:
		return "Hello!"
	}
}
