package translate

import (
	"context"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/core"
)

// SourceAuto asks the translation service to detect the source language.
const SourceAuto = "auto"

// Task is one unit of translation work. Metadata is carried through untouched
// (for game records it is the duration-policy code).
type Task struct {
	ID         string
	Metadata   uint64
	SourceText string
}

// Result is the outcome for exactly one Task.
//
// When every attempt failed, Succeeded is false and TranslatedText equals SourceText.
type Result struct {
	ID             string
	Metadata       uint64
	SourceText     string
	TranslatedText string
	Succeeded      bool
	Attempts       int

	// Err is the last failure seen, nil when the final attempt succeeded.
	Err error
}

// Translator is a remote translation capability. It may be slow, rate limited and fail
// transiently; callers are expected to bound and retry calls.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, text, sourceLang, targetLang string) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return f(ctx, text, sourceLang, targetLang)
}

// TransientError marks a capability failure as retryable.
type TransientError = core.TransientError

// PermanentError marks a capability failure that retrying cannot fix.
type PermanentError = core.PermanentError
