package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core"
	"github.com/arborcore/assistant-core/core/executor"
	"github.com/arborcore/assistant-core/internal/app"
)

// Handlers binds the six external operations to an App.
type Handlers struct {
	app    *app.App
	logger *zap.Logger
}

// NewHandlers constructs the domain request handlers.
func NewHandlers(a *app.App, logger *zap.Logger) *Handlers {
	return &Handlers{app: a, logger: logger}
}

// =============================================================================
// wire DTOs — core.Request/Response carry no JSON tags of their own, so
// the transport layer defines its own shapes and converts between them.
// =============================================================================

type messageDTO struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type paramsDTO struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	TimeoutMS       *int64   `json:"timeout_ms,omitempty"`
}

type requestDTO struct {
	Messages          []messageDTO `json:"messages"`
	PreferredProvider string       `json:"preferred_provider,omitempty"`
	TaskType          string       `json:"task_type,omitempty"`
	CachePolicy       string       `json:"cache_policy,omitempty"`
	Params            *paramsDTO   `json:"params,omitempty"`
}

type responseDTO struct {
	Text      string `json:"text"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Tokens    int    `json:"tokens"`
	Terminal  string `json:"terminal"`
	Cached    bool   `json:"cached"`
	CacheTier string `json:"cache_tier,omitempty"`
	TaskType  string `json:"task_type"`
}

func (d requestDTO) toCore() core.Request {
	messages := make([]core.Message, len(d.Messages))
	for i, m := range d.Messages {
		messages[i] = core.Message{Role: core.Role(m.Role), Text: m.Text}
	}

	params := core.DefaultParams()
	if d.Params != nil {
		if d.Params.Temperature != nil {
			params.Temperature = *d.Params.Temperature
		}
		if d.Params.MaxOutputTokens != nil {
			params.MaxOutputTokens = *d.Params.MaxOutputTokens
		}
		if d.Params.TimeoutMS != nil {
			params.Timeout = time.Duration(*d.Params.TimeoutMS) * time.Millisecond
		}
	}

	req := core.Request{
		Messages:          messages,
		PreferredProvider: d.PreferredProvider,
		Params:            params,
	}
	if d.TaskType != "" {
		tt := core.TaskType(d.TaskType)
		req.TaskTypeOverride = &tt
	}
	if d.CachePolicy == "skip" {
		req.CachePolicy = core.CacheSkip
	}
	return req
}

func responseToDTO(resp core.Response) responseDTO {
	return responseDTO{
		Text:      resp.Text,
		Provider:  resp.Provider,
		Model:     resp.Model,
		Tokens:    resp.Tokens,
		Terminal:  string(resp.Terminal),
		Cached:    resp.Cached,
		CacheTier: resp.CacheTier,
		TaskType:  string(resp.TaskType),
	}
}

// =============================================================================
// POST /generate
// =============================================================================

// HandleGenerate serves the generate() operation.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if !validateContentType(r) {
		writeErrorMessage(w, http.StatusUnsupportedMediaType, "invalid_content_type", "Content-Type must be application/json")
		return
	}

	var dto requestDTO
	if err := decodeJSONBody(w, r, &dto); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	resp, err := h.app.Generate(r.Context(), dto.toCore())
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeSuccess(w, responseToDTO(resp))
}

// =============================================================================
// POST /stream
// =============================================================================

// HandleStream serves the stream() operation as Server-Sent Events.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !validateContentType(r) {
		writeErrorMessage(w, http.StatusUnsupportedMediaType, "invalid_content_type", "Content-Type must be application/json")
		return
	}

	var dto requestDTO
	if err := decodeJSONBody(w, r, &dto); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	tokens, provider, err := h.app.Stream(r.Context(), dto.toCore())
	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Provider", provider)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for tok := range tokens {
		if tok.Err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"message\":%q}\n\n", tok.Err.Error())
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "data: {\"text\":%q,\"final\":%t}\n\n", tok.Text, tok.Final)
		flusher.Flush()
		if tok.Final {
			break
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// =============================================================================
// POST /parallel
// =============================================================================

type parallelRequestDTO struct {
	Tasks     []requestDTO `json:"tasks"`
	TimeoutMS int64        `json:"timeout_ms"`
}

type parallelResultDTO struct {
	Response *responseDTO `json:"response,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// HandleParallel serves the parallel() operation: each task is a
// generate-shaped request run concurrently under a bounded worker pool.
func (h *Handlers) HandleParallel(w http.ResponseWriter, r *http.Request) {
	if !validateContentType(r) {
		writeErrorMessage(w, http.StatusUnsupportedMediaType, "invalid_content_type", "Content-Type must be application/json")
		return
	}

	var dto parallelRequestDTO
	if err := decodeJSONBody(w, r, &dto); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	timeout := time.Duration(dto.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	tasks := make([]executor.Task, len(dto.Tasks))
	for i, t := range dto.Tasks {
		req := t.toCore()
		tasks[i] = func(ctx context.Context) (core.Response, error) {
			return h.app.Generate(ctx, req)
		}
	}

	results := h.app.Parallel(r.Context(), tasks, timeout)
	out := make([]parallelResultDTO, len(results))
	for i, res := range results {
		if res.Err != nil {
			out[i] = parallelResultDTO{Error: res.Err.Error()}
			continue
		}
		dto := responseToDTO(res.Response)
		out[i] = parallelResultDTO{Response: &dto}
	}
	writeSuccess(w, out)
}

// =============================================================================
// POST /invalidate
// =============================================================================

type invalidateRequestDTO struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Category    string `json:"category,omitempty"`
}

type invalidateResponseDTO struct {
	Count int64 `json:"count"`
}

// HandleInvalidate serves the invalidate() operation.
func (h *Handlers) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	if !validateContentType(r) {
		writeErrorMessage(w, http.StatusUnsupportedMediaType, "invalid_content_type", "Content-Type must be application/json")
		return
	}

	var dto invalidateRequestDTO
	if err := decodeJSONBody(w, r, &dto); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if dto.Fingerprint == "" && dto.Category == "" {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_body", "one of fingerprint or category is required")
		return
	}

	count, err := h.app.Invalidate(r.Context(), dto.Fingerprint, core.CacheCategory(dto.Category))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeSuccess(w, invalidateResponseDTO{Count: count})
}

// =============================================================================
// GET /status
// =============================================================================

// HandleStatus serves the status() operation.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.app.Status())
}

// =============================================================================
// POST /reset_provider/{name}
// =============================================================================

type resetProviderResponseDTO struct {
	Reset bool `json:"reset"`
}

// HandleResetProvider serves the reset_provider() operation.
func (h *Handlers) HandleResetProvider(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_body", "provider name is required")
		return
	}
	reset := h.app.ResetProvider(name)
	writeSuccess(w, resetProviderResponseDTO{Reset: reset})
}
