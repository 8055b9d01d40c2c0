package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/pipeline"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() pipeline.Options {
	return pipeline.Options{
		Workers:        4,
		RetryAttempts:  1,
		BackoffBase:    time.Millisecond,
		RequestTimeout: time.Second,
	}
}

// countingTranslator wraps every text as "<LANG>(text)" and fails for texts in fail.
type countingTranslator struct {
	calls atomic.Int64
	fail  map[string]bool
}

func (c *countingTranslator) Translate(_ context.Context, text, _, targetLang string) (string, error) {
	c.calls.Add(1)
	if c.fail[text] {
		return "", &translate.TransientError{Err: errors.New("service unavailable")}
	}
	return strings.ToUpper(targetLang) + "(" + text + ")", nil
}
