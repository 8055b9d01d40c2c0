package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/pipeline"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/foundry"
	foundryio "github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/io/foundry"
	localio "github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/io/local"
)

// FoundryOptions names the datasets of a pipeline-mode run.
type FoundryOptions struct {
	InputAlias     string
	OutputAlias    string
	OutputFilename string
	TargetLang     string
}

// RunFoundry translates the input dataset and writes the output dataset as one CSV.
//
// Rows already translated into the same language by a previous run (same id and
// source_text, status ok) are reused; only the rest reach the translation service.
func RunFoundry(ctx context.Context, env foundry.Env, fo FoundryOptions, tr translate.Translator, opts pipeline.Options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", uuid.NewString())
	runStart := time.Now()

	if strings.TrimSpace(fo.TargetLang) == "" {
		return fmt.Errorf("target language is required")
	}
	inputRef, err := env.Alias(fo.InputAlias)
	if err != nil {
		return err
	}
	outputRef, err := env.Alias(fo.OutputAlias)
	if err != nil {
		return err
	}
	outputFilename := strings.TrimSpace(fo.OutputFilename)
	if outputFilename == "" {
		outputFilename = "translations.csv"
	}
	logger.Info("foundry run start",
		"input", inputRef.RID+"@"+inputRef.BranchOrDefault(),
		"output", outputRef.RID+"@"+outputRef.BranchOrDefault(),
		"target_lang", fo.TargetLang,
		"workers", opts.Workers,
		"retry_attempts", opts.RetryAttempts,
		"request_timeout", opts.RequestTimeout,
		"rate_limit_rps", opts.RateLimitRPS,
	)

	client, err := foundry.NewClient(env.Services.APIGateway, env.Token, env.DefaultCAPath)
	if err != nil {
		return err
	}

	readStart := time.Now()
	recs, err := foundryio.ReadInputRecords(ctx, client, inputRef)
	if err != nil {
		return fmt.Errorf("read input dataset: %w", err)
	}
	logger.Info("loaded input records", "rows", len(recs), "duration", time.Since(readStart).Round(time.Millisecond))

	prior, err := readPriorRows(ctx, client, outputRef, logger)
	if err != nil {
		return err
	}
	plan := buildIncrementalPlan(recs, fo.TargetLang, prior)
	logger.Info("incremental plan",
		"input_rows", len(recs),
		"cached_rows", plan.cachedRows,
		"rows_to_translate", plan.pendingRows,
		"unique_tasks", len(plan.pending),
	)

	translateStart := time.Now()
	traced := newTracedTranslator(tr, logger)
	if len(plan.pending) > 0 {
		opts.Logger = logger
		results, err := pipeline.Run(ctx, plan.pending, fo.TargetLang, traced, opts)
		if err != nil {
			return err
		}
		if err := plan.apply(results, fo.TargetLang); err != nil {
			return err
		}
	}
	okRows, untranslatedRows := countStatuses(plan.rows)
	logger.Info("translation complete",
		"rows", len(plan.rows),
		"ok", okRows,
		"untranslated", untranslatedRows,
		"requests", traced.Calls(),
		"duration", time.Since(translateStart).Round(time.Millisecond),
	)

	writeStart := time.Now()
	var out bytes.Buffer
	if err := pipeline.WriteCSV(&out, plan.rows); err != nil {
		return err
	}
	if err := foundryio.UploadDatasetCSV(ctx, client, outputRef, outputFilename, out.Bytes()); err != nil {
		return fmt.Errorf("write output dataset: %w", err)
	}
	logger.Info("foundry run complete",
		"write_duration", time.Since(writeStart).Round(time.Millisecond),
		"total_duration", time.Since(runStart).Round(time.Millisecond),
	)
	return nil
}

func readPriorRows(ctx context.Context, client *foundry.Client, outputRef foundry.DatasetRef, logger *slog.Logger) (map[string]pipeline.Row, error) {
	b, err := foundryio.ReadPriorCSV(ctx, client, outputRef)
	if err != nil {
		return nil, fmt.Errorf("read prior output dataset snapshot: %w", err)
	}
	if b == nil {
		logger.Info("no prior output snapshot", "output", outputRef.RID)
		return map[string]pipeline.Row{}, nil
	}

	rows, err := pipeline.ReadCSV(bytes.NewReader(b))
	if err != nil {
		// An output written by something else is overwritten rather than merged.
		logger.Warn("ignoring unparseable prior output", "output", outputRef.RID, "error", err)
		return map[string]pipeline.Row{}, nil
	}
	out := make(map[string]pipeline.Row, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.ID) == "" {
			continue
		}
		out[rowKey(row.ID, row.SourceText)] = row
	}
	logger.Info("loaded prior output rows", "rows", len(out))
	return out, nil
}

type incrementalPlan struct {
	inputs      []localio.Record
	rows        []pipeline.Row
	pending     []translate.Task
	pendingIdx  map[string][]int
	cachedRows  int
	pendingRows int
}

func buildIncrementalPlan(inputs []localio.Record, targetLang string, prior map[string]pipeline.Row) incrementalPlan {
	plan := incrementalPlan{
		inputs:     inputs,
		rows:       make([]pipeline.Row, len(inputs)),
		pendingIdx: make(map[string][]int),
	}
	for i, rec := range inputs {
		key := rowKey(rec.ID, rec.Text)
		if prev, ok := prior[key]; ok && prev.IsOK() && prev.TargetLang == targetLang {
			prev.Metadata = strconv.FormatUint(rec.Metadata, 10)
			plan.rows[i] = prev
			plan.cachedRows++
			continue
		}

		if _, seen := plan.pendingIdx[key]; !seen {
			plan.pending = append(plan.pending, translate.Task{ID: rec.ID, Metadata: rec.Metadata, SourceText: rec.Text})
		}
		plan.pendingIdx[key] = append(plan.pendingIdx[key], i)
		plan.pendingRows++
	}
	return plan
}

func (p *incrementalPlan) apply(results []translate.Result, targetLang string) error {
	if len(results) != len(p.pending) {
		return fmt.Errorf("incremental translation mismatch: got %d results for %d pending tasks", len(results), len(p.pending))
	}
	for i, res := range results {
		task := p.pending[i]
		if res.ID != task.ID {
			return fmt.Errorf("incremental translation mismatch: result %q for task %q", res.ID, task.ID)
		}
		idxs := p.pendingIdx[rowKey(task.ID, task.SourceText)]
		if len(idxs) == 0 {
			return fmt.Errorf("incremental translation mismatch: missing pending rows for %q", task.ID)
		}
		row := pipeline.RowFromResult(res, targetLang)
		for _, idx := range idxs {
			r := row
			r.Metadata = strconv.FormatUint(p.inputs[idx].Metadata, 10)
			p.rows[idx] = r
		}
	}
	return nil
}

func rowKey(id, sourceText string) string {
	return strings.TrimSpace(id) + "\x00" + sourceText
}

func countStatuses(rows []pipeline.Row) (okRows int, untranslatedRows int) {
	for _, row := range rows {
		if row.IsOK() {
			okRows++
			continue
		}
		untranslatedRows++
	}
	return okRows, untranslatedRows
}
