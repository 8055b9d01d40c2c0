package pipeline

import (
	"strconv"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/redact"
)

const (
	StatusOK           = "ok"
	StatusUntranslated = "untranslated"
)

// Row is the stable output schema contract.
type Row struct {
	ID             string
	Metadata       string
	SourceText     string
	TargetLang     string
	TranslatedText string
	Status         string
	Attempts       string
	Error          string
}

// Header returns the stable CSV header for Row.
func Header() []string {
	return []string{
		"id",
		"metadata",
		"source_text",
		"target_lang",
		"translated_text",
		"status",
		"attempts",
		"error",
	}
}

// RowFromResult flattens one result for targetLang into an output row.
func RowFromResult(res translate.Result, targetLang string) Row {
	row := Row{
		ID:             res.ID,
		Metadata:       strconv.FormatUint(res.Metadata, 10),
		SourceText:     res.SourceText,
		TargetLang:     targetLang,
		TranslatedText: res.TranslatedText,
		Status:         StatusOK,
		Attempts:       strconv.Itoa(res.Attempts),
	}
	if !res.Succeeded {
		row.Status = StatusUntranslated
		if res.Err != nil {
			row.Error = redact.Secrets(res.Err.Error())
		}
	}
	return row
}

func RowsFromResults(results []translate.Result, targetLang string) []Row {
	rows := make([]Row, len(results))
	for i, res := range results {
		rows[i] = RowFromResult(res, targetLang)
	}
	return rows
}

// IsOK reports whether the row holds a successful translation.
func (r Row) IsOK() bool {
	return r.Status == StatusOK
}
