package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/worker"
)

type Options struct {
	// Workers caps translation requests in flight.
	Workers int

	// Every ThrottleEvery-th task (index 0 included) waits ThrottleDelay before its first request.
	ThrottleEvery int
	ThrottleDelay time.Duration

	RetryAttempts  int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RequestTimeout time.Duration

	// RateLimitRPS caps request starts per second across all tasks. Set to <=0 to disable.
	RateLimitRPS float64

	ProgressEvery int
	// OnProgress replaces the default progress log line.
	OnProgress func(worker.Progress)

	Logger *slog.Logger
}

// DefaultOptions returns the stock tuning: 1000 in flight, a 500ms pause every 1500 tasks,
// 3 retries starting at 1s and progress every 100 completions.
func DefaultOptions() Options {
	return Options{
		Workers:        1000,
		ThrottleEvery:  1500,
		ThrottleDelay:  500 * time.Millisecond,
		RetryAttempts:  3,
		BackoffBase:    time.Second,
		RequestTimeout: 30 * time.Second,
		ProgressEvery:  100,
	}
}

// Run translates every task into targetLang and returns one result per task, in the
// order the tasks were given. Task failures are reported in the results; the error is
// only non-nil when ctx ends before the batch completes.
func Run(ctx context.Context, tasks []translate.Task, targetLang string, tr translate.Translator, opts Options) ([]translate.Result, error) {
	retrier, wopts := prepare(targetLang, tr, opts)

	out, err := worker.ProcessAll(ctx, tasks, translateFunc(retrier, targetLang), wopts)
	if err != nil {
		return nil, err
	}

	results := make([]translate.Result, len(out))
	for i, item := range out {
		results[i] = item.Output
	}
	return results, nil
}

// RunStream is Run with results delivered to onResult as they complete (completion order).
// An error from onResult stops the run.
func RunStream(
	ctx context.Context,
	tasks []translate.Task,
	targetLang string,
	tr translate.Translator,
	opts Options,
	onResult func(translate.Result) error,
) error {
	retrier, wopts := prepare(targetLang, tr, opts)

	_, err := worker.ProcessAllWithCallback(ctx, tasks, translateFunc(retrier, targetLang), func(item worker.Result[translate.Task, translate.Result]) error {
		return onResult(item.Output)
	}, wopts)
	return err
}

func translateFunc(r *translate.Retrier, targetLang string) func(context.Context, translate.Task) (translate.Result, error) {
	return func(ctx context.Context, task translate.Task) (translate.Result, error) {
		return r.Translate(ctx, task, targetLang), nil
	}
}

func prepare(targetLang string, tr translate.Translator, opts Options) (*translate.Retrier, worker.Options) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	retrier := translate.NewRetrier(tr, translate.RetryOptions{
		MaxRetries:     opts.RetryAttempts,
		BackoffBase:    opts.BackoffBase,
		BackoffMax:     opts.BackoffMax,
		RequestTimeout: opts.RequestTimeout,
		Limiter:        limiter,
		Logger:         logger,
	})

	onProgress := opts.OnProgress
	if onProgress == nil {
		onProgress = func(p worker.Progress) {
			logger.Info("translation progress",
				"target_lang", targetLang,
				"completed", p.Completed,
				"total", p.Total,
				"percent", fmt.Sprintf("%.1f", p.Percent()),
			)
		}
	}

	return retrier, worker.Options{
		Workers:       opts.Workers,
		FailurePolicy: worker.FailurePolicyPartialOutput,
		ThrottleEvery: opts.ThrottleEvery,
		ThrottleDelay: opts.ThrottleDelay,
		ProgressEvery: opts.ProgressEvery,
		OnProgress:    onProgress,
	}
}
