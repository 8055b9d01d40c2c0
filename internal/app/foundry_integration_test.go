package app_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/app"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/pipeline"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/foundry"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/mockfoundry"
)

const (
	inputRID  = "ri.foundry.main.dataset.11111111-1111-1111-1111-111111111111"
	outputRID = "ri.foundry.main.dataset.22222222-2222-2222-2222-222222222222"
)

func startMock(t *testing.T, input string) (*mockfoundry.Server, foundry.Env) {
	t.Helper()
	inputDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(inputDir, inputRID+".csv"), []byte(input), 0o644); err != nil {
		t.Fatalf("write input csv: %v", err)
	}

	mock := mockfoundry.New(inputDir, t.TempDir())
	mock.RequireBearerToken("dummy-token")
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	env := foundry.Env{
		Services: foundry.Services{APIGateway: ts.URL + "/api"},
		Token:    "dummy-token",
		Aliases: map[string]foundry.DatasetRef{
			"input":  {RID: inputRID, Branch: "master"},
			"output": {RID: outputRID, Branch: "master"},
		},
	}
	return mock, env
}

func lastUploadRows(t *testing.T, mock *mockfoundry.Server) []pipeline.Row {
	t.Helper()
	uploads := mock.Uploads()
	if len(uploads) == 0 {
		t.Fatalf("expected an upload")
	}
	up := uploads[len(uploads)-1]
	if up.DatasetRID != outputRID || up.FilePath != "translations.csv" {
		t.Fatalf("unexpected upload metadata: %+v", up)
	}
	rows, err := pipeline.ReadCSV(bytes.NewReader(up.Bytes))
	if err != nil {
		t.Fatalf("parse uploaded csv: %v", err)
	}
	return rows
}

func TestRunFoundry_EndToEndAgainstMock(t *testing.T) {
	t.Parallel()

	mock, env := startMock(t, "id,metadata,source_text\n1407,2,Heals 10% HP\n1507,0,Stun\n1407,3,Heals 10% HP\n")
	tr := &countingTranslator{}
	fo := app.FoundryOptions{InputAlias: "input", OutputAlias: "output", TargetLang: "fr"}

	if err := app.RunFoundry(context.Background(), env, fo, tr, testOptions(), discardLogger()); err != nil {
		t.Fatalf("RunFoundry failed: %v", err)
	}
	// duplicate (id, text) pairs are translated once
	if n := tr.calls.Load(); n != 2 {
		t.Fatalf("expected 2 translation calls, got %d", n)
	}

	rows := lastUploadRows(t, mock)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d: %#v", len(rows), rows)
	}
	if rows[0].ID != "1407" || rows[0].Metadata != "2" || rows[0].TranslatedText != "FR(Heals 10% HP)" || !rows[0].IsOK() {
		t.Fatalf("unexpected row[0]: %#v", rows[0])
	}
	if rows[1].ID != "1507" || rows[1].TranslatedText != "FR(Stun)" || rows[1].TargetLang != "fr" {
		t.Fatalf("unexpected row[1]: %#v", rows[1])
	}
	if rows[2].Metadata != "3" || rows[2].TranslatedText != rows[0].TranslatedText {
		t.Fatalf("unexpected row[2]: %#v", rows[2])
	}

	commits := 0
	for _, c := range mock.Calls() {
		if strings.HasPrefix(c.Path, "/api/v2/datasets/"+outputRID+"/transactions/") && strings.HasSuffix(c.Path, "/commit") {
			commits++
		}
	}
	if commits != 1 {
		t.Fatalf("expected 1 commit, got %d (calls=%#v)", commits, mock.Calls())
	}
}

func TestRunFoundry_IncrementalReusesPriorRows(t *testing.T) {
	t.Parallel()

	mock, env := startMock(t, "id,source_text\n1,alpha\n2,beta\n")
	tr := &countingTranslator{fail: map[string]bool{"beta": true}}
	fo := app.FoundryOptions{InputAlias: "input", OutputAlias: "output", TargetLang: "de"}
	ctx := context.Background()

	if err := app.RunFoundry(ctx, env, fo, tr, testOptions(), discardLogger()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rows := lastUploadRows(t, mock)
	if !rows[0].IsOK() || rows[1].Status != pipeline.StatusUntranslated || rows[1].TranslatedText != "beta" {
		t.Fatalf("unexpected first run rows: %#v", rows)
	}
	// alpha once, beta twice (one retry)
	if n := tr.calls.Load(); n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}

	// Only the untranslated row is retried on the next run.
	delete(tr.fail, "beta")
	if err := app.RunFoundry(ctx, env, fo, tr, testOptions(), discardLogger()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := tr.calls.Load(); n != 4 {
		t.Fatalf("expected 4 calls after second run, got %d", n)
	}
	rows = lastUploadRows(t, mock)
	if !rows[0].IsOK() || !rows[1].IsOK() || rows[1].TranslatedText != "DE(beta)" {
		t.Fatalf("unexpected second run rows: %#v", rows)
	}

	// A different target language invalidates every prior row.
	fo.TargetLang = "es"
	if err := app.RunFoundry(ctx, env, fo, tr, testOptions(), discardLogger()); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if n := tr.calls.Load(); n != 6 {
		t.Fatalf("expected 6 calls after language change, got %d", n)
	}
	rows = lastUploadRows(t, mock)
	if rows[0].TranslatedText != "ES(alpha)" || rows[0].TargetLang != "es" {
		t.Fatalf("unexpected third run rows: %#v", rows)
	}
}

func TestRunFoundry_MissingAlias(t *testing.T) {
	t.Parallel()

	_, env := startMock(t, "id,source_text\n1,x\n")
	fo := app.FoundryOptions{InputAlias: "input", OutputAlias: "nope", TargetLang: "fr"}
	err := app.RunFoundry(context.Background(), env, fo, &countingTranslator{}, testOptions(), discardLogger())
	if err == nil || !strings.Contains(err.Error(), `missing alias "nope"`) {
		t.Fatalf("expected missing alias error, got %v", err)
	}
}
