package mockfoundry_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/foundry"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/mockfoundry"
)

func newClient(t *testing.T, srv *mockfoundry.Server) *foundry.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := foundry.NewClient(ts.URL+"/api", "dummy-token", "")
	if err != nil {
		t.Fatalf("new foundry client: %v", err)
	}
	return client
}

func TestMockFoundry_CommitUpdatesReadTable(t *testing.T) {
	t.Parallel()

	srv := mockfoundry.New(t.TempDir(), t.TempDir())
	client := newClient(t, srv)

	ctx := context.Background()
	rid := "ri.foundry.main.dataset.99999999-9999-9999-9999-999999999999"

	txnRID, err := client.CreateTransaction(ctx, rid, "master")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if open, ok, err := client.FindLatestOpenTransaction(ctx, rid); err != nil || !ok || open != txnRID {
		t.Fatalf("expected open transaction %s, got %s ok=%v err=%v", txnRID, open, ok, err)
	}

	want := []byte("id,metadata\n1407,2\n")
	if err := client.UploadFile(ctx, rid, txnRID, "translations.csv", "text/csv", want); err != nil {
		t.Fatalf("upload file: %v", err)
	}
	if err := client.CommitTransaction(ctx, rid, txnRID); err != nil {
		t.Fatalf("commit transaction: %v", err)
	}
	if _, ok, err := client.FindLatestOpenTransaction(ctx, rid); err != nil || ok {
		t.Fatalf("expected no open transaction after commit, ok=%v err=%v", ok, err)
	}

	got, err := client.ReadTableCSV(ctx, rid, "")
	if err != nil {
		t.Fatalf("readTable: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("readTable output mismatch:\n--- got ---\n%s\n--- want ---\n%s\n", got, want)
	}
}

func TestMockFoundry_ReadsInputDir(t *testing.T) {
	t.Parallel()

	inputDir := t.TempDir()
	rid := "ri.foundry.main.dataset.input"
	want := []byte("id,metadata,source_text\n1407,2,Heals 10% HP\n")
	if err := os.WriteFile(filepath.Join(inputDir, rid+".csv"), want, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	client := newClient(t, mockfoundry.New(inputDir, ""))
	got, err := client.ReadTableCSV(context.Background(), rid, "master")
	if err != nil {
		t.Fatalf("readTable: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("unexpected table: %q", got)
	}
}

func TestMockFoundry_UnknownDatasetIsNotFound(t *testing.T) {
	t.Parallel()

	client := newClient(t, mockfoundry.New(t.TempDir(), ""))
	_, err := client.ReadTableCSV(context.Background(), "ri.foundry.main.dataset.missing", "")
	if !foundry.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMockFoundry_RequiresToken(t *testing.T) {
	t.Parallel()

	srv := mockfoundry.New(t.TempDir(), "")
	srv.RequireBearerToken("other-token")
	srv.SeedDataset("ri.x", []byte("a\n"))
	client := newClient(t, srv)

	_, err := client.ReadTableCSV(context.Background(), "ri.x", "")
	if err == nil || !strings.Contains(err.Error(), "Default:Unauthorized") {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestMockFoundry_RejectUploadDatasetMismatch(t *testing.T) {
	t.Parallel()

	client := newClient(t, mockfoundry.New(t.TempDir(), t.TempDir()))

	ctx := context.Background()
	ridA := "ri.foundry.main.dataset.aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	ridB := "ri.foundry.main.dataset.bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"

	txnRID, err := client.CreateTransaction(ctx, ridA, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	err = client.UploadFile(ctx, ridB, txnRID, "translations.csv", "text/csv", []byte("id\n1\n"))
	if err == nil {
		t.Fatalf("expected upload to fail for dataset mismatch")
	}
	if !strings.Contains(err.Error(), "errorName=TransactionNotFound") {
		t.Fatalf("expected TransactionNotFound error, got: %v", err)
	}
}

func TestMockFoundry_RejectCommitWithoutUpload(t *testing.T) {
	t.Parallel()

	client := newClient(t, mockfoundry.New(t.TempDir(), t.TempDir()))

	ctx := context.Background()
	rid := "ri.foundry.main.dataset.cccccccc-cccc-cccc-cccc-cccccccccccc"

	txnRID, err := client.CreateTransaction(ctx, rid, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	err = client.CommitTransaction(ctx, rid, txnRID)
	if err == nil {
		t.Fatalf("expected commit to fail with no uploaded files")
	}
	if !strings.Contains(err.Error(), "errorName=Conjure:InvalidArgument") {
		t.Fatalf("expected InvalidArgument error, got: %v", err)
	}
}

func TestMockFoundry_CommittedHeadSurvivesRestart(t *testing.T) {
	t.Parallel()

	uploadDir := t.TempDir()
	rid := "ri.foundry.main.dataset.persist"
	ctx := context.Background()

	first := newClient(t, mockfoundry.New("", uploadDir))
	txnRID, err := first.CreateTransaction(ctx, rid, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if err := first.UploadFile(ctx, rid, txnRID, "out.csv", "text/csv", []byte("id\n9\n")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := first.CommitTransaction(ctx, rid, txnRID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	second := newClient(t, mockfoundry.New("", uploadDir))
	got, err := second.ReadTableCSV(ctx, rid, "")
	if err != nil {
		t.Fatalf("readTable after restart: %v", err)
	}
	if string(got) != "id\n9\n" {
		t.Fatalf("unexpected table: %q", got)
	}
}
