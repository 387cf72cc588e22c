// Package transport exposes the assistant's six external operations
// over HTTP: POST /generate, POST /stream, POST /parallel, POST
// /invalidate, GET /status, POST /reset_provider/{name}, plus /health
// and /metrics, via a response envelope, JSON decode/validate helpers,
// a ResponseWriter wrapper for status capture, and a middleware-chained
// mux.
package transport

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core"
)

// envelope is the wire shape for every JSON response, success or error.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *errorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type errorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeJSON writes v as a raw JSON body with status, bypassing the
// envelope. Used for health/version endpoints that have their own shape.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSuccess wraps data in a success envelope.
func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Timestamp: time.Now()})
}

// writeError maps err to an HTTP status and writes an error envelope,
// logging server-side (5xx) failures.
func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	kind := "internal_error"
	message := err.Error()
	status := http.StatusInternalServerError

	var coreErr *core.Error
	var allFailed *core.AllProvidersFailedError
	switch {
	case errors.As(err, &allFailed):
		kind = string(core.KindAllProvidersFailed)
		status = http.StatusBadGateway
	case errors.As(err, &coreErr):
		kind = string(coreErr.Kind)
		status = errorKindToStatus(coreErr.Kind)
	}

	if status >= 500 {
		logger.Error("request failed", zap.Error(err), zap.String("kind", kind))
	}

	writeJSON(w, status, envelope{
		Success:   false,
		Error:     &errorInfo{Kind: kind, Message: message},
		Timestamp: time.Now(),
	})
}

// writeErrorMessage writes a simple client error without an underlying
// core.Error (e.g. a body that failed to decode).
func writeErrorMessage(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, envelope{
		Success:   false,
		Error:     &errorInfo{Kind: kind, Message: message},
		Timestamp: time.Now(),
	})
}

// errorKindToStatus maps core.ErrorKind to an HTTP status.
func errorKindToStatus(kind core.ErrorKind) int {
	switch kind {
	case core.KindConfigError, core.KindProviderInvalid:
		return http.StatusBadRequest
	case core.KindProviderAuth:
		return http.StatusUnauthorized
	case core.KindProviderRateLimited:
		return http.StatusTooManyRequests
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindInterrupted:
		return http.StatusConflict
	case core.KindAllProvidersFailed:
		return http.StatusBadGateway
	case core.KindProviderTransient, core.KindCacheBackendError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// maxRequestBodyBytes bounds decoded JSON bodies.
const maxRequestBodyBytes = 1 << 20

// decodeJSONBody decodes r's body into dst, rejecting unknown fields and
// bodies over maxRequestBodyBytes.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// validateContentType reports whether r's Content-Type is application/json.
func validateContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// statusResponseWriter wraps http.ResponseWriter to capture the status
// code written, for middleware that needs to observe it after the
// handler returns.
type statusResponseWriter struct {
	http.ResponseWriter
	StatusCode  int
	wroteHeader bool
	bytesOut    int64
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.StatusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesOut += int64(n)
	return n, err
}

// Flush implements http.Flusher so SSE responses pass through writers
// wrapped by this type.
func (w *statusResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
