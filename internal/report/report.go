// Package report renders translation results as the markdown summary written by local runs.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/records"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
)

const (
	noMatches          = "No matches found."
	untranslatedSuffix = " [untranslated]"
)

// Section is the report block for one input file.
type Section struct {
	File  string
	Lines []string
}

// IDLines lists record ids, one "<id>," per line.
func IDLines(recs []records.Record) []string {
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = r.ID + ","
	}
	return lines
}

// ResultLines formats one "<id> (<metadata>), <source> // Translated: <text>" line per
// result. Results that kept the source text are marked untranslated.
func ResultLines(results []translate.Result) []string {
	lines := make([]string, len(results))
	for i, res := range results {
		line := fmt.Sprintf("%s (%d), %s // Translated: %s", res.ID, res.Metadata, res.SourceText, res.TranslatedText)
		if !res.Succeeded {
			line += untranslatedSuffix
		}
		lines[i] = line
	}
	return lines
}

// Render writes every section as "\n<file>:\n" followed by its lines.
func Render(w io.Writer, sections []Section) error {
	bw := bufio.NewWriter(w)
	for _, s := range sections {
		if _, err := fmt.Fprintf(bw, "\n%s:\n", s.File); err != nil {
			return err
		}
		body := noMatches
		if len(s.Lines) > 0 {
			body = strings.Join(s.Lines, "\n")
		}
		if _, err := bw.WriteString(body + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// OutputFilename names the report after the selection: all_buffs.md for everything,
// the prefixes joined by "_" otherwise, output.md when there is nothing to name it by.
func OutputFilename(sel records.Selector) string {
	if sel.IsAll() {
		return "all_buffs.md"
	}
	if p := sel.Prefixes(); len(p) > 0 {
		return strings.Join(p, "_") + ".md"
	}
	return "output.md"
}
