// Package computemodule polls the Foundry compute module job endpoint and posts results.
package computemodule

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/redact"
)

const (
	idlePoll        = 500 * time.Millisecond
	maxErrorBackoff = 5 * time.Second
	postAttempts    = 5
)

type jobEnvelope struct {
	ComputeModuleJobV1 Job `json:"computeModuleJobV1"`
}

// Job is one query delivered by the compute module runtime.
type Job struct {
	JobID     string          `json:"jobId"`
	QueryType string          `json:"queryType"`
	Query     json.RawMessage `json:"query"`
}

// HandlerFunc answers a job. A returned error is posted as the job result.
type HandlerFunc func(ctx context.Context, job Job) ([]byte, error)

type Config struct {
	GetJobURI       string
	PostResultURI   string
	ModuleAuthToken string
	// DefaultCAPath is a PEM bundle to trust; empty uses the system pool.
	DefaultCAPath string
}

// LoadConfigFromEnv reports ok=false when GET_JOB_URI/POST_RESULT_URI are unset.
func LoadConfigFromEnv() (Config, bool, error) {
	getJob := strings.TrimSpace(os.Getenv("GET_JOB_URI"))
	postRes := strings.TrimSpace(os.Getenv("POST_RESULT_URI"))
	if getJob == "" || postRes == "" {
		return Config{}, false, nil
	}

	tok, err := readValueOrFile(os.Getenv("MODULE_AUTH_TOKEN"))
	if err != nil {
		return Config{}, false, fmt.Errorf("read MODULE_AUTH_TOKEN: %w", err)
	}
	if tok == "" {
		return Config{}, false, fmt.Errorf("MODULE_AUTH_TOKEN is required when GET_JOB_URI/POST_RESULT_URI are set")
	}

	return Config{
		GetJobURI:       getJob,
		PostResultURI:   postRes,
		ModuleAuthToken: tok,
		DefaultCAPath:   strings.TrimSpace(os.Getenv("DEFAULT_CA_PATH")),
	}, true, nil
}

// readValueOrFile returns the contents of v when it names a readable file, v otherwise.
func readValueOrFile(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if st, err := os.Stat(v); err == nil && !st.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hc, err := newHTTPClient(cfg.DefaultCAPath)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, http: hc, logger: logger, sleep: sleepCtx}, nil
}

func newHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if caPath != "" {
		b, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}, nil
}

// Run polls for jobs and answers them one at a time until ctx ends.
func (c *Client) Run(ctx context.Context, handle HandlerFunc) error {
	c.logger.Info("compute module client polling", "get_job_uri", c.cfg.GetJobURI)

	backoff := idlePoll
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, ok, err := c.getNextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("get job failed", "error", redact.Secrets(err.Error()), "retry_in", backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, maxErrorBackoff)
			continue
		}
		backoff = idlePoll
		if !ok {
			if err := c.sleep(ctx, idlePoll); err != nil {
				return err
			}
			continue
		}

		jobID := strings.TrimSpace(job.JobID)
		if jobID == "" {
			c.logger.Warn("received job without jobId, skipping")
			continue
		}
		logger := c.logger.With("job_id", jobID, "query_type", strings.TrimSpace(job.QueryType))
		logger.Info("job received")

		result, jobErr := handle(ctx, job)
		if jobErr != nil {
			logger.Error("job failed", "error", redact.Secrets(jobErr.Error()))
			if len(result) == 0 {
				result = []byte(redact.Secrets(jobErr.Error()))
			}
		} else if len(result) == 0 {
			result = []byte("ok")
		}

		if err := c.postWithRetry(ctx, jobID, result); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("post result failed", "error", redact.Secrets(err.Error()))
		}
	}
}

func (c *Client) postWithRetry(ctx context.Context, jobID string, result []byte) error {
	var err error
	for i := 0; i < postAttempts; i++ {
		if err = c.postResult(ctx, jobID, result); err == nil {
			return nil
		}
		if i < postAttempts-1 {
			if serr := c.sleep(ctx, time.Duration(i+1)*time.Second); serr != nil {
				return serr
			}
		}
	}
	return err
}

func (c *Client) getNextJob(ctx context.Context) (Job, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.GetJobURI, nil)
	if err != nil {
		return Job{}, false, err
	}
	req.Header.Set("Module-Auth-Token", c.cfg.ModuleAuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Job{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return Job{}, false, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Job{}, false, err
	}
	if resp.StatusCode/100 != 2 {
		return Job{}, false, fmt.Errorf("GET job: status=%d body=%s", resp.StatusCode, snippet(b))
	}

	var env jobEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Job{}, false, fmt.Errorf("parse GET job response: %w", err)
	}
	return env.ComputeModuleJobV1, true, nil
}

func (c *Client) postResult(ctx context.Context, jobID string, result []byte) error {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.PostResultURI), "/")
	u := base + "/" + path.Clean("/" + jobID)[1:]

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(result))
	if err != nil {
		return err
	}
	req.Header.Set("Module-Auth-Token", c.cfg.ModuleAuthToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST result: status=%d body=%s", resp.StatusCode, snippet(b))
	}
	return nil
}

func snippet(b []byte) string {
	if len(b) > 256 {
		b = b[:256]
	}
	return redact.Secrets(strings.TrimSpace(string(b)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
