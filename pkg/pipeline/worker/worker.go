package worker

import (
	"context"
	"sync"
	"time"
)

type FailurePolicy int

const (
	FailurePolicyPartialOutput FailurePolicy = iota
	FailurePolicyFailFast
)

type Options struct {
	// Workers caps how many items are processed at the same time. Items beyond the cap
	// wait for a free slot.
	Workers int

	FailurePolicy FailurePolicy

	// ThrottleEvery makes every item whose index is a multiple of it wait ThrottleDelay
	// before it is processed (index 0 included). Set to <=0 to disable.
	ThrottleEvery int
	ThrottleDelay time.Duration

	// ProgressEvery controls how often OnProgress fires, counted in completed items.
	// The final completion is always reported.
	ProgressEvery int
	OnProgress    func(Progress)
}

// Progress is a completion snapshot. Completed counts in completion order.
type Progress struct {
	Completed int
	Total     int
}

// Percent returns the completed share in the range [0, 100].
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 100
	}
	return float64(p.Completed) * 100 / float64(p.Total)
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.ThrottleDelay < 0 {
		o.ThrottleDelay = 0
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 100
	}
	return o
}

// ProcessAll runs the processor over all input items.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs the processor over all input items and invokes onResult
// as each item completes. The callback receives completion-order results; the returned
// slice is in submission order.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	out := make([]Result[In, Out], len(items))
	if len(items) == 0 {
		return out, ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		idx int
		in  In
	}

	jobs := make(chan job)
	done := make(chan Result[In, Out], opts.Workers)

	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	workerFn := func() {
		defer wg.Done()
		for j := range jobs {
			if runCtx.Err() != nil {
				return
			}
			if opts.ThrottleEvery > 0 && opts.ThrottleDelay > 0 && j.idx%opts.ThrottleEvery == 0 {
				if err := sleepCtx(runCtx, opts.ThrottleDelay); err != nil {
					return
				}
			}
			res, err := processor(runCtx, j.in)
			select {
			case done <- Result[In, Out]{Index: j.idx, Input: j.in, Output: res, Err: err}:
			case <-runCtx.Done():
				return
			}
			if err != nil && opts.FailurePolicy == FailurePolicyFailFast {
				fail(err)
				return
			}
		}
	}

	workers := opts.Workers
	if workers > len(items) {
		workers = len(items)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go workerFn()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	// Only this goroutine touches the completion count.
	completed := 0
	for res := range done {
		out[res.Index] = res
		completed++
		if opts.OnProgress != nil && (completed%opts.ProgressEvery == 0 || completed == len(items)) {
			opts.OnProgress(Progress{Completed: completed, Total: len(items)})
		}
		if onResult != nil {
			if err := onResult(res); err != nil {
				fail(err)
			}
		}
	}

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
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
