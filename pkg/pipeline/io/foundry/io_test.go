package foundryio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/foundry"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/mockfoundry"
)

func newMock(t *testing.T) (*mockfoundry.Server, *foundry.Client) {
	t.Helper()
	srv := mockfoundry.New(t.TempDir(), "")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := foundry.NewClient(ts.URL+"/api", "dummy-token", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return srv, client
}

func TestReadInputRecords(t *testing.T) {
	t.Parallel()

	srv, client := newMock(t)
	srv.SeedDataset("ri.in", []byte("id,metadata,source_text\n1407,2,Heals 10% HP\n1507,0,Stun\n"))

	got, err := ReadInputRecords(context.Background(), client, foundry.DatasetRef{RID: "ri.in"})
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1407" || got[0].Metadata != 2 || got[1].Text != "Stun" {
		t.Fatalf("unexpected records: %#v", got)
	}
}

func TestReadPriorCSV_MissingDatasetIsEmpty(t *testing.T) {
	t.Parallel()

	_, client := newMock(t)
	got, err := ReadPriorCSV(context.Background(), client, foundry.DatasetRef{RID: "ri.out"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil prior contents, got %q", got)
	}
}

func TestUploadDatasetCSV_CreatesAndCommits(t *testing.T) {
	t.Parallel()

	srv, client := newMock(t)
	ctx := context.Background()
	ref := foundry.DatasetRef{RID: "ri.out"}

	if err := UploadDatasetCSV(ctx, client, ref, "", []byte("id\n1\n")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	uploads := srv.Uploads()
	if len(uploads) != 1 || uploads[0].FilePath != "translations.csv" {
		t.Fatalf("unexpected uploads: %#v", uploads)
	}

	got, err := ReadPriorCSV(ctx, client, ref)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "id\n1\n" {
		t.Fatalf("unexpected committed table: %q", got)
	}
}

func TestUploadDatasetCSV_ReusesOpenTransaction(t *testing.T) {
	t.Parallel()

	_, client := newMock(t)
	ctx := context.Background()
	ref := foundry.DatasetRef{RID: "ri.out"}

	open, err := client.CreateTransaction(ctx, ref.RID, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if err := UploadDatasetCSV(ctx, client, ref, "out.csv", []byte("id\n2\n")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	still, ok, err := client.FindLatestOpenTransaction(ctx, ref.RID)
	if err != nil || !ok || still != open {
		t.Fatalf("expected %s to stay open, got %s ok=%v err=%v", open, still, ok, err)
	}
	if err := client.CommitTransaction(ctx, ref.RID, open); err != nil {
		t.Fatalf("commit by owner: %v", err)
	}
}

func TestRetryTransient(t *testing.T) {
	t.Parallel()

	t.Run("retries 5xx until success", func(t *testing.T) {
		calls := 0
		err := retryTransient(context.Background(), 4, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return &foundry.HTTPError{StatusCode: http.StatusBadGateway}
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("expected success after 3 calls, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("does not retry 4xx", func(t *testing.T) {
		calls := 0
		want := &foundry.HTTPError{StatusCode: http.StatusForbidden}
		err := retryTransient(context.Background(), 4, time.Millisecond, func() error {
			calls++
			return want
		})
		if !errors.Is(err, want) || calls != 1 {
			t.Fatalf("expected one call, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("stops on canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := retryTransient(ctx, 4, time.Hour, func() error {
			return &foundry.HTTPError{StatusCode: http.StatusTooManyRequests}
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	})
}
