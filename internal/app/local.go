package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/pipeline"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/records"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/report"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
)

const (
	FormatMarkdown = "md"
	FormatCSV      = "csv"
)

// LocalOptions describes one local run over game data exports.
type LocalOptions struct {
	Files      []string
	Selector   records.Selector
	TargetLang string

	// OutputPath defaults to a name derived from Selector.
	OutputPath string
	// Format is FormatMarkdown (default) or FormatCSV.
	Format string
}

// RunLocal extracts the selected records from every file, translates the JSON ones and
// writes the report. Missing, unreadable and unsupported files are skipped with a warning.
// It returns the path written.
func RunLocal(ctx context.Context, in LocalOptions, tr translate.Translator, opts pipeline.Options, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	format := strings.ToLower(strings.TrimSpace(in.Format))
	if format == "" {
		format = FormatMarkdown
	}
	if format != FormatMarkdown && format != FormatCSV {
		return "", fmt.Errorf("invalid format %q (expected md|csv)", in.Format)
	}
	if strings.TrimSpace(in.TargetLang) == "" {
		return "", fmt.Errorf("target language is required")
	}
	if len(in.Files) == 0 {
		return "", fmt.Errorf("at least one input file is required")
	}
	opts.Logger = logger

	var (
		sections []report.Section
		rows     []pipeline.Row
	)
	for _, path := range in.Files {
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".json" {
			logger.Warn("skipping unsupported file", "file", path)
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable file", "file", path, "error", err)
			continue
		}

		switch ext {
		case ".txt":
			recs, err := records.ReadTXT(bytes.NewReader(b), in.Selector)
			if err != nil {
				logger.Warn("skipping unreadable file", "file", path, "error", err)
				continue
			}
			logger.Info("extracted ids", "file", path, "matches", len(recs))
			sections = append(sections, report.Section{File: path, Lines: report.IDLines(recs)})

		case ".json":
			recs, err := records.ReadJSON(bytes.NewReader(b), in.Selector)
			if err != nil {
				logger.Warn("skipping unreadable file", "file", path, "error", err)
				continue
			}
			logger.Info("translating records", "file", path, "matches", len(recs), "target_lang", in.TargetLang)
			results, err := pipeline.Run(ctx, records.Tasks(recs), in.TargetLang, tr, opts)
			if err != nil {
				return "", err
			}
			sections = append(sections, report.Section{File: path, Lines: report.ResultLines(results)})
			rows = append(rows, pipeline.RowsFromResults(results, in.TargetLang)...)
		}
	}

	outputPath := in.OutputPath
	if strings.TrimSpace(outputPath) == "" {
		outputPath = report.OutputFilename(in.Selector)
		if format == FormatCSV {
			outputPath = strings.TrimSuffix(outputPath, ".md") + ".csv"
		}
	}

	var buf bytes.Buffer
	var err error
	if format == FormatCSV {
		err = pipeline.WriteCSV(&buf, rows)
	} else {
		err = report.Render(&buf, sections)
	}
	if err != nil {
		return "", err
	}
	if err := writeFile(outputPath, buf.Bytes()); err != nil {
		return "", err
	}
	logger.Info("report written", "path", outputPath, "sections", len(sections), "rows", len(rows))
	return outputPath, nil
}

func writeFile(path string, b []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}
