package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sagarc03/anystore"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ObjectInfo describes an object or directory in JSON responses.
type ObjectInfo struct {
	Path         string     `json:"path"`
	Dir          bool       `json:"dir,omitempty"`
	Size         int64      `json:"size"`
	ContentType  string     `json:"content_type,omitempty"`
	ETag         string     `json:"etag,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// ListResult is the response of a directory listing. NextCursor is empty
// on the last page.
type ListResult struct {
	Items      []ObjectInfo `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func objectInfo(path string, meta anystore.Metadata) ObjectInfo {
	info := ObjectInfo{Path: path, Dir: meta.IsDir()}
	info.Size, _ = meta.ContentLength()
	info.ContentType, _ = meta.ContentType()
	info.ETag, _ = meta.ETag()
	if t, ok := meta.LastModified(); ok {
		t = t.UTC()
		info.LastModified = &t
	}
	return info
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

// HandleError writes the response matching the kind of err.
func HandleError(w http.ResponseWriter, err error) {
	code, errCode := StatusOf(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request error", "error", err)
	} else {
		slog.Debug("request error", "error", err)
	}

	message := http.StatusText(code)
	var e *anystore.Error
	if code < http.StatusInternalServerError && errors.As(err, &e) && e.Message != "" {
		message = e.Message
	}
	if code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	WriteError(w, code, errCode, message)
}

// StatusOf returns the HTTP status and error code for err.
func StatusOf(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "too_large"
	}

	switch anystore.KindOf(err) {
	case anystore.KindNotFound:
		return http.StatusNotFound, "not_found"
	case anystore.KindAlreadyExists:
		return http.StatusPreconditionFailed, "already_exists"
	case anystore.KindConditionNotMatch:
		return http.StatusPreconditionFailed, "precondition_failed"
	case anystore.KindPermissionDenied:
		return http.StatusForbidden, "forbidden"
	case anystore.KindUnsupported:
		return http.StatusNotImplemented, "not_implemented"
	case anystore.KindRateLimited:
		return http.StatusTooManyRequests, "rate_limited"
	case anystore.KindInvalidInput:
		return http.StatusBadRequest, "invalid_request"
	case anystore.KindInvalidState:
		return http.StatusConflict, "conflict"
	}
	if anystore.IsRetryable(err) {
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
