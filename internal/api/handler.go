// Package api serves the translation pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/pipeline"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/redact"
)

const defaultMaxTexts = 500

type Handler struct {
	tr       translate.Translator
	opts     pipeline.Options
	maxTexts int
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler serves translations through tr. Requests with more than maxTexts texts are
// rejected; maxTexts <= 0 means 500.
func NewHandler(tr translate.Translator, opts pipeline.Options, maxTexts int, logger *slog.Logger) *Handler {
	if maxTexts <= 0 {
		maxTexts = defaultMaxTexts
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.Logger = logger
	return &Handler{
		tr:       tr,
		opts:     opts,
		maxTexts: maxTexts,
		logger:   logger,
		validate: validator.New(),
	}
}

type TextInput struct {
	ID       string `json:"id" validate:"required"`
	Metadata uint64 `json:"metadata"`
	Text     string `json:"text"`
}

type TranslateRequest struct {
	TargetLang string      `json:"target_lang" validate:"required,min=2,max=16"`
	Texts      []TextInput `json:"texts" validate:"required,min=1,dive"`
}

type TextResult struct {
	ID             string `json:"id"`
	Metadata       uint64 `json:"metadata"`
	SourceText     string `json:"source_text"`
	TranslatedText string `json:"translated_text"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

type TranslateResponse struct {
	TargetLang   string       `json:"target_lang"`
	Translated   int          `json:"translated"`
	Untranslated int          `json:"untranslated"`
	Results      []TextResult `json:"results"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// RequestError is a batch the handler refuses to run.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Process validates req and runs it through the pipeline. Results come back in request
// order; texts that could not be translated are returned unchanged with status
// "untranslated". Invalid batches fail with *RequestError.
func (h *Handler) Process(ctx context.Context, req TranslateRequest) (TranslateResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return TranslateResponse{}, &RequestError{Status: http.StatusBadRequest, Message: validationMessage(err)}
	}
	if len(req.Texts) > h.maxTexts {
		return TranslateResponse{}, &RequestError{
			Status:  http.StatusRequestEntityTooLarge,
			Message: fmt.Sprintf("too many texts: %d > %d", len(req.Texts), h.maxTexts),
		}
	}

	tasks := make([]translate.Task, len(req.Texts))
	for i, t := range req.Texts {
		tasks[i] = translate.Task{ID: t.ID, Metadata: t.Metadata, SourceText: t.Text}
	}

	results, err := pipeline.Run(ctx, tasks, req.TargetLang, h.tr, h.opts)
	if err != nil {
		return TranslateResponse{}, err
	}

	resp := TranslateResponse{TargetLang: req.TargetLang, Results: make([]TextResult, len(results))}
	for i, res := range results {
		out := TextResult{
			ID:             res.ID,
			Metadata:       res.Metadata,
			SourceText:     res.SourceText,
			TranslatedText: res.TranslatedText,
			Status:         pipeline.StatusOK,
			Attempts:       res.Attempts,
		}
		if res.Succeeded {
			resp.Translated++
		} else {
			out.Status = pipeline.StatusUntranslated
			if res.Err != nil {
				out.Error = redact.Secrets(res.Err.Error())
			}
			resp.Untranslated++
		}
		resp.Results[i] = out
	}
	return resp, nil
}

// Translate serves POST /v1/translations.
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.Process(r.Context(), req)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			respondError(w, reqErr.Status, reqErr.Message)
			return
		}
		h.logger.Warn("translation batch aborted", "texts", len(req.Texts), "error", err)
		respondError(w, http.StatusServiceUnavailable, "translation aborted")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("invalid %s: failed on %q", fe.Namespace(), fe.Tag())
	}
	return "validation error"
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
