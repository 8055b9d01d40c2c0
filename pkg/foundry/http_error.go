package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/redact"
)

// conjureErrorEnvelope is the error body shape of Foundry APIs. Other fields are ignored.
type conjureErrorEnvelope struct {
	ErrorCode       string `json:"errorCode"`
	ErrorName       string `json:"errorName"`
	ErrorInstanceID string `json:"errorInstanceId"`
}

// HTTPError is a sanitized summary of a non-2xx Foundry API response.
//
// Raw response bodies are never kept; they can carry tokens or dataset contents.
type HTTPError struct {
	Op              string
	StatusCode      int
	Status          string
	ErrorName       string
	ErrorCode       string
	ErrorInstanceID string

	// Snippet is a redacted, truncated hint for non-Conjure responses.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "foundry http error"
	}
	parts := []string{fmt.Sprintf("foundry api error: op=%s status=%s", e.Op, e.Status)}
	if e.ErrorName != "" {
		parts = append(parts, "errorName="+e.ErrorName)
	}
	if e.ErrorCode != "" {
		parts = append(parts, "errorCode="+e.ErrorCode)
	}
	if e.ErrorInstanceID != "" {
		parts = append(parts, "instance="+e.ErrorInstanceID)
	}
	if e.Snippet != "" {
		parts = append(parts, "body="+e.Snippet)
	}
	return strings.Join(parts, " ")
}

// Retryable reports whether the status is worth retrying (429 and 5xx).
func (e *HTTPError) Retryable() bool {
	return e != nil && (e.StatusCode == http.StatusTooManyRequests || e.StatusCode/100 == 5)
}

// IsNotFound reports whether err is a 404 from the Foundry API.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env conjureErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		h.ErrorName = strings.TrimSpace(env.ErrorName)
		h.ErrorCode = strings.TrimSpace(env.ErrorCode)
		h.ErrorInstanceID = strings.TrimSpace(env.ErrorInstanceID)
		if h.ErrorName != "" || h.ErrorCode != "" || h.ErrorInstanceID != "" {
			return h
		}
	}

	h.Snippet = redactAndTruncate(body, 256)
	return h
}

func redactAndTruncate(body []byte, max int) string {
	if len(body) == 0 {
		return ""
	}
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
