package translate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/redact"
)

const diagnosticPrefixRunes = 20

type RetryOptions struct {
	// MaxRetries is the number of extra attempts after the first one fails.
	MaxRetries int

	// BackoffBase is the sleep before the first retry; retry k sleeps BackoffBase * 2^k.
	BackoffBase time.Duration
	// BackoffMax caps a single sleep. Set to <=0 for uncapped backoff.
	BackoffMax time.Duration

	// RequestTimeout bounds each call to the translation service. A timed out call is
	// retried like any other failure.
	RequestTimeout time.Duration

	// Limiter, when set, is waited on before every call (shared by all tasks).
	Limiter *rate.Limiter

	Logger *slog.Logger

	// Sleep replaces the timer-based backoff sleep. Tests use it to observe delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return o
}

// Retrier wraps a Translator with '%' escaping and bounded retries. It never fails:
// when the budget is exhausted the source text comes back as the translation.
type Retrier struct {
	next Translator
	opts RetryOptions
}

func NewRetrier(next Translator, opts RetryOptions) *Retrier {
	return &Retrier{next: next, opts: opts.withDefaults()}
}

// retryState lives for one task's retry loop.
type retryState struct {
	attempt int
	lastErr error
}

// Translate translates one task into targetLang.
func (r *Retrier) Translate(ctx context.Context, task Task, targetLang string) Result {
	escaped := Escape(task.SourceText)
	logger := r.opts.Logger.With("id", task.ID, "target_lang", targetLang)

	var st retryState
	for {
		if err := ctx.Err(); err != nil {
			st.lastErr = err
			break
		}
		if r.opts.Limiter != nil {
			if err := r.opts.Limiter.Wait(ctx); err != nil {
				st.lastErr = err
				break
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
		out, err := r.next.Translate(reqCtx, escaped.Text, SourceAuto, targetLang)
		cancel()
		st.attempt++
		if err == nil {
			return Result{
				ID:             task.ID,
				Metadata:       task.Metadata,
				SourceText:     task.SourceText,
				TranslatedText: escaped.Unescape(out),
				Succeeded:      true,
				Attempts:       st.attempt,
			}
		}
		st.lastErr = err
		if ctx.Err() != nil {
			break
		}

		budget := maxExtraRetries(r.opts.MaxRetries, err)
		if isPermanent(err) || st.attempt > budget {
			logger.Error("translation failed, keeping source text",
				"attempts", st.attempt,
				"permanent", isPermanent(err),
				"error", redact.Secrets(err.Error()),
			)
			break
		}

		wait := backoffSleep(r.opts.BackoffBase, r.opts.BackoffMax, st.attempt-1)
		logger.Warn("translation attempt failed, retrying",
			"attempt", st.attempt,
			"max_attempts", budget+1,
			"wait", wait,
			"text", truncate(task.SourceText, diagnosticPrefixRunes),
			"error", redact.Secrets(err.Error()),
		)
		if err := r.opts.Sleep(ctx, wait); err != nil {
			break
		}
	}

	return Result{
		ID:             task.ID,
		Metadata:       task.Metadata,
		SourceText:     task.SourceText,
		TranslatedText: escaped.Unescape(escaped.Text),
		Succeeded:      false,
		Attempts:       st.attempt,
		Err:            st.lastErr,
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

func maxExtraRetries(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := capErr.MaxExtraRetries()
		if limited < 0 {
			limited = 0
		}
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

func isPermanent(err error) bool {
	var pe *core.PermanentError
	return errors.As(err, &pe)
}

// backoffSleep returns initial * 2^attempt, capped at max when max > 0. No jitter.
func backoffSleep(initial, max time.Duration, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt; i++ {
		if max > 0 && sleep >= max {
			break
		}
		sleep *= 2
	}
	if max > 0 && sleep > max {
		sleep = max
	}
	return sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncate returns the first n runes of s, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
