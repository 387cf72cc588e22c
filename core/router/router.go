// Package router implements the provider-selection, retry, and failover
// algorithm sitting atop the cache, classifier, rate-limit ledger, and
// health tracker. A Router holds a provider map plus a health monitor
// and selects candidates from a static per-task-type preference table
// rather than a database-driven strategy lookup.
package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core"
	"github.com/arborcore/assistant-core/core/classifier"
	"github.com/arborcore/assistant-core/core/fingerprint"
	"github.com/arborcore/assistant-core/core/health"
	"github.com/arborcore/assistant-core/core/ratelimit"
)

// DefaultMaxRetries is the number of attempts against a single candidate
// provider before failing over.
const DefaultMaxRetries = 2

// preferenceTable maps each task type to its ordered candidate list.
// Identifiers are logical provider names; the configured provider set is
// a strict subset of any row.
var preferenceTable = map[core.TaskType][]string{
	core.TaskFastQuery:        {"fast-remote", "high-context-remote", "local"},
	core.TaskComplexReasoning: {"high-context-remote", "fast-remote", "local"},
	core.TaskCoding:           {"fast-remote", "high-context-remote", "local"},
	core.TaskCreative:         {"high-context-remote", "fast-remote", "local"},
	core.TaskConversation:     {"fast-remote", "high-context-remote", "local"},
	core.TaskUnknown:          {"fast-remote", "high-context-remote", "local"},
}

// Cache is the subset of the cache orchestrator's surface the Router
// needs; satisfied by *cache.Cache.
type Cache interface {
	Lookup(ctx context.Context, req core.Request) (core.Response, bool)
	Store(ctx context.Context, req core.Request, resp core.Response, category core.CacheCategory)
}

// Router selects a provider order for a task, attempts with bounded
// retries and backoff, promotes cache hits, and records outcomes into
// the health tracker and rate-limit ledger.
type Router struct {
	providers   map[string]core.Provider
	cache       Cache
	classifier  *classifier.Classifier
	normalizer  *fingerprint.Normalizer
	health      *health.Tracker
	ledger      *ratelimit.Ledger
	logger      *zap.Logger

	tuneMu          sync.RWMutex
	maxRetries      int
	defaultProvider string

	sleep func(time.Duration)
}

// Option configures a Router.
type Option func(*Router)

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(r *Router) { r.maxRetries = n }
}

// WithDefaultProvider sets the provider tried ahead of the
// task-preference table whenever a request does not name its own
// PreferredProvider.
func WithDefaultProvider(name string) Option {
	return func(r *Router) { r.defaultProvider = name }
}

// withSleep overrides the inter-attempt sleep function; used by tests to
// avoid real delays.
func withSleep(fn func(time.Duration)) Option {
	return func(r *Router) { r.sleep = fn }
}

// New builds a Router over providers (keyed by logical name matching the
// preference table's identifiers).
func New(providers map[string]core.Provider, c Cache, health *health.Tracker, ledger *ratelimit.Ledger, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		providers:  providers,
		cache:      c,
		classifier: classifier.New(),
		normalizer: fingerprint.New(),
		health:     health,
		ledger:     ledger,
		logger:     logger.With(zap.String("component", "router")),
		maxRetries: DefaultMaxRetries,
		sleep:      time.Sleep,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetMaxRetries updates the same-provider retry bound in place; a
// non-positive n resets it to DefaultMaxRetries. Safe to call while the
// Router is serving requests — used by configuration hot reload to pick
// up a changed Router.MaxRetries without a process restart.
func (r *Router) SetMaxRetries(n int) {
	if n <= 0 {
		n = DefaultMaxRetries
	}
	r.tuneMu.Lock()
	r.maxRetries = n
	r.tuneMu.Unlock()
}

// SetDefaultProvider updates the provider tried ahead of the
// task-preference table in place. Safe to call while the Router is
// serving requests.
func (r *Router) SetDefaultProvider(name string) {
	r.tuneMu.Lock()
	r.defaultProvider = name
	r.tuneMu.Unlock()
}

func (r *Router) tunables() (maxRetries int, defaultProvider string) {
	r.tuneMu.RLock()
	defer r.tuneMu.RUnlock()
	return r.maxRetries, r.defaultProvider
}

// candidates builds the ordered, filtered candidate list: preferred
// provider (if configured) heads the list, followed by the
// task-preference table order; each candidate is dropped if
// unconfigured, unavailable, in backoff, or quota-exhausted.
func (r *Router) candidates(taskType core.TaskType, preferred string, estimatedTokens int) []string {
	order := preferenceTable[taskType]
	if order == nil {
		order = preferenceTable[core.TaskUnknown]
	}

	seen := make(map[string]bool, len(order)+1)
	var named []string
	if preferred != "" {
		named = append(named, preferred)
		seen[preferred] = true
	}
	for _, name := range order {
		if !seen[name] {
			named = append(named, name)
			seen[name] = true
		}
	}

	var out []string
	for _, name := range named {
		if _, configured := r.providers[name]; !configured {
			continue
		}
		if r.health != nil && (!r.health.Available(name) || r.health.InBackoff(name)) {
			continue
		}
		if r.ledger != nil && !r.ledger.CanAdmit(name, estimatedTokens) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Generate runs the full selection/retry/failover/cache cycle for a
// single blocking request.
func (r *Router) Generate(ctx context.Context, req core.Request) (core.Response, error) {
	if req.CachePolicy != core.CacheSkip && r.cache != nil {
		if resp, ok := r.cache.Lookup(ctx, req); ok {
			return resp, nil
		}
	}

	text := req.LastUserMessage()
	taskType := core.TaskUnknown
	if req.TaskTypeOverride != nil {
		taskType = *req.TaskTypeOverride
	} else {
		taskType = r.classifier.Classify(text)
	}

	estimatedTokens := estimateTokens(text)
	preferred := req.PreferredProvider
	if preferred == "" {
		_, preferred = r.tunables()
	}
	candidateNames := r.candidates(taskType, preferred, estimatedTokens)

	var attempted []string
	var lastErr error

	for _, name := range candidateNames {
		provider := r.providers[name]
		attempted = append(attempted, name)

		resp, err := r.attemptWithRetries(ctx, provider, req, estimatedTokens)
		if err == nil {
			resp.TaskType = taskType
			if r.ledger != nil {
				r.ledger.Record(name, resp.Tokens)
			}
			if r.health != nil {
				r.health.RecordSuccess(name)
			}
			if r.cache != nil && resp.Terminal != core.ReasonError && resp.Terminal != core.ReasonInterrupted {
				r.cache.Store(ctx, req, resp, categoryFor(text, taskType))
			}
			return resp, nil
		}

		lastErr = err
		if r.health != nil {
			r.health.RecordFailure(name, err)
		}
	}

	return core.Response{}, core.NewAllProvidersFailed(attempted, lastErr)
}

// attemptWithRetries retries a single candidate up to maxRetries times,
// sleeping backoff(attempt) between attempts. Only errors that
// core.IsRetryable accepts (transient provider errors) are retried; any
// other error fails over at once, and a provider-auth error also marks
// the provider unavailable immediately.
func (r *Router) attemptWithRetries(ctx context.Context, provider core.Provider, req core.Request, estimatedTokens int) (core.Response, error) {
	maxRetries, _ := r.tunables()
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := provider.Generate(ctx, req.Messages, req.Params)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var coreErr *core.Error
		if errors.As(err, &coreErr) && coreErr.Kind == core.KindProviderAuth {
			if r.health != nil {
				r.health.MarkUnavailable(provider.Name(), err)
			}
			return core.Response{}, err
		}
		if !core.IsRetryable(err) {
			return core.Response{}, err
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return core.Response{}, ctx.Err()
			default:
			}
			r.sleep(retryBackoff(attempt))
		}
	}
	return core.Response{}, lastErr
}

// retryBackoff is the Router's inner, per-attempt sleep, distinct from
// C4's cross-request provider backoff.
func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 200 * time.Millisecond
}

// categoryFor assigns a CacheCategory to a freshly generated Response.
// Category assignment for live (non-template) responses is this
// implementation's resolution of an open question (see DESIGN.md):
// reuse the classifier's task-type result for the conversation/general
// split, plus a small keyword set for the domain-specific categories a
// personal assistant actually answers.
func categoryFor(text string, taskType core.TaskType) core.CacheCategory {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "turn on", "turn off", "lock the", "unlock", "set the thermostat", "dim the"):
		return core.CategorySystemAction
	case containsAny(lower, "weather", "forecast", "temperature outside", "rain", "snow"):
		return core.CategoryWeather
	case containsAny(lower, "news", "headline", "breaking"):
		return core.CategoryNews
	case containsAny(lower, "calendar", "schedule", "meeting", "appointment"):
		return core.CategoryCalendar
	case containsAny(lower, "light status", "is the door", "device status", "thermostat reading"):
		return core.CategoryIoTStatus
	case taskType == core.TaskConversation:
		return core.CategoryConversation
	default:
		return core.CategoryGeneral
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Stream runs the selection logic once and returns a lazy token
// sequence from the first viable candidate. The Router never fails over
// mid-stream: if the provider stream itself raises after tokens have
// already been observed by the caller, that error surfaces on the
// channel rather than triggering a retry.
func (r *Router) Stream(ctx context.Context, req core.Request) (<-chan core.StreamToken, string, error) {
	text := req.LastUserMessage()
	taskType := core.TaskUnknown
	if req.TaskTypeOverride != nil {
		taskType = *req.TaskTypeOverride
	} else {
		taskType = r.classifier.Classify(text)
	}

	estimatedTokens := estimateTokens(text)
	preferred := req.PreferredProvider
	if preferred == "" {
		_, preferred = r.tunables()
	}
	candidateNames := r.candidates(taskType, preferred, estimatedTokens)

	var lastErr error
	for _, name := range candidateNames {
		provider := r.providers[name]
		ch, err := provider.Stream(ctx, req.Messages, req.Params)
		if err != nil {
			lastErr = err
			if r.health != nil {
				r.health.RecordFailure(name, err)
			}
			continue
		}
		if r.ledger != nil {
			r.ledger.Record(name, estimatedTokens)
		}
		if r.health != nil {
			r.health.RecordSuccess(name)
		}
		return ch, name, nil
	}

	return nil, "", core.NewAllProvidersFailed(candidateNames, lastErr)
}
