// Package records extracts translation candidates from game data exports.
package records

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
)

// Record is one entry found in an input file.
type Record struct {
	ID             string
	DurationPolicy uint64
	Description    string
}

// Task converts the record into a translation task.
func (r Record) Task() translate.Task {
	return translate.Task{ID: r.ID, Metadata: r.DurationPolicy, SourceText: r.Description}
}

// Selector picks records by id. The zero value selects nothing; use All or ByPrefix.
type Selector struct {
	all      bool
	prefixes []string
}

func All() Selector {
	return Selector{all: true}
}

// ByPrefix selects ids starting with any of the given prefixes. Blank prefixes are ignored.
func ByPrefix(prefixes ...string) Selector {
	s := Selector{}
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			s.prefixes = append(s.prefixes, p)
		}
	}
	return s
}

func (s Selector) Match(id string) bool {
	if s.all {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// Prefixes returns the configured prefixes (empty for All).
func (s Selector) Prefixes() []string {
	return append([]string(nil), s.prefixes...)
}

func (s Selector) IsAll() bool {
	return s.all
}

type jsonEntry struct {
	ID             json.RawMessage `json:"Id"`
	GeDesc         json.RawMessage `json:"GeDesc"`
	DurationPolicy json.RawMessage `json:"DurationPolicy"`
}

// ReadJSON reads a JSON array of objects and returns the selected ones in file order.
//
// Entries whose Id is not a non-negative integer are skipped. A missing or non-string
// GeDesc becomes "", a missing or non-integer DurationPolicy becomes 0.
func ReadJSON(r io.Reader, sel Selector) ([]Record, error) {
	var entries []json.RawMessage
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode json records: %w", err)
	}

	var out []Record
	for _, raw := range entries {
		var e jsonEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		id, ok := parseUint(e.ID)
		if !ok {
			continue
		}
		idStr := strconv.FormatUint(id, 10)
		if !sel.Match(idStr) {
			continue
		}

		var desc string
		if len(e.GeDesc) > 0 {
			_ = json.Unmarshal(e.GeDesc, &desc)
		}
		policy, _ := parseUint(e.DurationPolicy)

		out = append(out, Record{ID: idStr, DurationPolicy: policy, Description: desc})
	}
	return out, nil
}

func parseUint(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var txtIDRe = regexp.MustCompile(`Id:\s*(\d+)\s*\(1\)`)

// ReadTXT scans a text dump for "Id: <n> (1)" markers and returns the selected ids in
// file order. TXT records carry no text to translate.
func ReadTXT(r io.Reader, sel Selector) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		m := txtIDRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		if sel.Match(m[1]) {
			out = append(out, Record{ID: m[1]})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan txt records: %w", err)
	}
	return out, nil
}

// Tasks converts records into translation tasks, preserving order.
func Tasks(recs []Record) []translate.Task {
	tasks := make([]translate.Task, len(recs))
	for i, r := range recs {
		tasks[i] = r.Task()
	}
	return tasks
}
