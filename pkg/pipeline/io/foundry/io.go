package foundryio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/foundry"
	localio "github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/io/local"
)

const (
	retryAttempts     = 8
	retryInitialSleep = 200 * time.Millisecond
	retryMaxSleep     = 2 * time.Second
)

// ReadInputRecords reads the input dataset and extracts id, metadata and source_text.
func ReadInputRecords(ctx context.Context, client *foundry.Client, inputRef foundry.DatasetRef) ([]localio.Record, error) {
	b, err := readTable(ctx, client, inputRef)
	if err != nil {
		return nil, err
	}
	return localio.ReadRecordsCSV(bytes.NewReader(b))
}

// ReadPriorCSV returns the current contents of the output dataset. A dataset or branch
// that does not exist yet reads as (nil, nil).
func ReadPriorCSV(ctx context.Context, client *foundry.Client, outputRef foundry.DatasetRef) ([]byte, error) {
	b, err := readTable(ctx, client, outputRef)
	if foundry.IsNotFound(err) {
		return nil, nil
	}
	return b, err
}

func readTable(ctx context.Context, client *foundry.Client, ref foundry.DatasetRef) ([]byte, error) {
	var out []byte
	err := retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
		var err error
		out, err = client.ReadTableCSV(ctx, ref.RID, ref.Branch)
		return err
	})
	return out, err
}

// UploadDatasetCSV uploads CSV bytes to a dataset transaction.
//
// A fresh SNAPSHOT transaction is created and committed. When the dataset already has an
// open transaction (a build owns it), the file is written into that one and left for the
// owner to commit.
func UploadDatasetCSV(ctx context.Context, client *foundry.Client, outputRef foundry.DatasetRef, outputFilename string, csv []byte) error {
	if strings.TrimSpace(outputFilename) == "" {
		outputFilename = "translations.csv"
	}

	var txnID string
	createdTxn := true
	err := retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
		var err error
		txnID, err = client.CreateTransaction(ctx, outputRef.RID, outputRef.Branch)
		return err
	})
	if err != nil {
		if !isOpenTransactionAlreadyExists(err) {
			return err
		}
		createdTxn = false

		var ok bool
		err = retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
			var err error
			txnID, ok, err = client.FindLatestOpenTransaction(ctx, outputRef.RID)
			return err
		})
		if err != nil {
			return err
		}
		if !ok || txnID == "" {
			return fmt.Errorf("output dataset reports an open transaction but listTransactions returned none")
		}
	}

	if err := retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
		return client.UploadFile(ctx, outputRef.RID, txnID, outputFilename, "text/csv", csv)
	}); err != nil {
		return err
	}

	if createdTxn {
		return retryTransient(ctx, retryAttempts, retryInitialSleep, func() error {
			return client.CommitTransaction(ctx, outputRef.RID, txnID)
		})
	}
	return nil
}

func isOpenTransactionAlreadyExists(err error) bool {
	var he *foundry.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusConflict {
		return false
	}
	return he.ErrorName == "OpenTransactionAlreadyExists" || he.ErrorCode == "CONFLICT"
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *foundry.HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func retryTransient(ctx context.Context, attempts int, initialSleep time.Duration, f func() error) error {
	sleep := initialSleep
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := f()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) || i == attempts-1 {
			return err
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		sleep = min(sleep*2, retryMaxSleep)
	}
	return lastErr
}
