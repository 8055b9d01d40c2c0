package local

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Record is one input row: an id, optional numeric metadata, and the text to translate.
type Record struct {
	ID       string
	Metadata uint64
	Text     string
}

// ReadRecordsCSV reads translation input rows.
//
// The "id" and "source_text" columns are required; "metadata" is optional and defaults
// to 0. Header matching is case-insensitive. Rows with a blank id are skipped.
func ReadRecordsCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idIdx := columnIndex(header, "id")
	textIdx := columnIndex(header, "source_text")
	metaIdx := columnIndex(header, "metadata")
	if idIdx < 0 {
		return nil, fmt.Errorf("missing required column %q", "id")
	}
	if textIdx < 0 {
		return nil, fmt.Errorf("missing required column %q", "source_text")
	}

	var out []Record
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idIdx >= len(rec) || textIdx >= len(rec) {
			return nil, fmt.Errorf("row %d has %d columns, want at least %d", line, len(rec), max(idIdx, textIdx)+1)
		}
		id := strings.TrimSpace(rec[idIdx])
		if id == "" {
			continue
		}

		var meta uint64
		if metaIdx >= 0 && metaIdx < len(rec) {
			if s := strings.TrimSpace(rec[metaIdx]); s != "" {
				meta, err = strconv.ParseUint(s, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("row %d: invalid metadata %q", line, s)
				}
			}
		}
		out = append(out, Record{ID: id, Metadata: meta, Text: rec[textIdx]})
	}
	return out, nil
}

func columnIndex(header []string, name string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}
