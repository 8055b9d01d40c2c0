package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	if code != 0 || out != "translator 0.1.0\n" {
		t.Fatalf("unexpected version output: code=%d out=%q", code, out)
	}
}

func TestUsageErrorsExitTwo(t *testing.T) {
	cases := [][]string{
		{"local", "--all", "--target-lang", "fr"},
		{"local", "x.json", "--all", "--ids", "14", "--target-lang", "fr"},
		{"local", "x.json", "--target-lang", "fr"},
		{"local", "x.json", "--all"},
		{"local", "x.json", "--all", "--target-lang", "fr", "--provider", "deepl"},
		{"foundry", "--no-such-flag"},
		{"nope"},
	}
	for _, args := range cases {
		if code, _, stderr := run(t, args...); code != 2 {
			t.Fatalf("%v: expected exit 2, got %d (stderr=%q)", args, code, stderr)
		}
	}
}

func TestLocalEndToEnd(t *testing.T) {
	gtx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		text := "[" + q.Get("tl") + "] " + q.Get("q")
		b, _ := json.Marshal([]any{[]any{[]any{text, q.Get("q"), nil, nil, 10}}, nil, "en"})
		_, _ = w.Write(b)
	}))
	defer gtx.Close()
	t.Setenv("TRANSLATOR_PROVIDER_GTX_BASE_URL", gtx.URL)

	dir := t.TempDir()
	input := filepath.Join(dir, "buffs.json")
	if err := os.WriteFile(input, []byte(`[{"Id":1407,"GeDesc":"Heals 10% HP","DurationPolicy":2}]`), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	output := filepath.Join(dir, "report.md")

	code, out, stderr := run(t, "local", input, "--ids", "14", "--target-lang", "fr", "-o", output, "--log-format", "text")
	if code != 0 {
		t.Fatalf("expected success, got %d (stderr=%q)", code, stderr)
	}
	if strings.TrimSpace(out) != output {
		t.Fatalf("expected output path on stdout, got %q", out)
	}

	b, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	want := "\n" + input + ":\n1407 (2), Heals 10% HP // Translated: [fr] Heals 10% HP\n"
	if string(b) != want {
		t.Fatalf("unexpected report:\n%s\nwant:\n%s", b, want)
	}
}
