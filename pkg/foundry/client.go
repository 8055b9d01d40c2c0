package foundry

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

// Client calls the dataset endpoints of the Foundry API gateway that the translator
// needs: read a table snapshot, and write a file through a SNAPSHOT transaction.
type Client struct {
	apiBaseURL *url.URL
	token      string
	http       *http.Client
}

// NewClient constructs a client for the API gateway base URL.
//
// apiGatewayURL should look like "https://<stack>.palantirfoundry.com/api".
// defaultCAPath is optional and, when provided, is used as the trust store for TLS.
func NewClient(apiGatewayURL, token, defaultCAPath string) (*Client, error) {
	apiBase, err := parseBaseURL(apiGatewayURL, "api gateway")
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(defaultCAPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		apiBaseURL: apiBase,
		token:      strings.TrimSpace(token),
		http:       hc,
	}, nil
}

func parseBaseURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL must include a host (got %q)", name, raw)
	}
	// A trailing slash makes ResolveReference treat the base path as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(defaultCAPath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// request describes one API call. Non-2xx responses become *HTTPError tagged with op.
type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	accept      string
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	u := c.resolveAPI(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	accept := r.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(r.op, resp, b)
	}
	return b, nil
}

type branchResponse struct {
	Name           string `json:"name"`
	TransactionRID string `json:"transactionRid"`
}

// GetBranchTransactionRID returns the most recent OPEN or COMMITTED transaction on the branch.
// It pins readTable requests to a deterministic snapshot.
func (c *Client) GetBranchTransactionRID(ctx context.Context, datasetRID, branch string) (string, error) {
	datasetRID = strings.TrimSpace(datasetRID)
	if datasetRID == "" {
		return "", fmt.Errorf("dataset rid is required")
	}
	branch = defaultBranch(branch)

	b, err := c.do(ctx, request{
		op:     "getBranch",
		method: http.MethodGet,
		path:   fmt.Sprintf("v2/datasets/%s/branches/%s", url.PathEscape(datasetRID), url.PathEscape(branch)),
	})
	if err != nil {
		return "", err
	}

	var out branchResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("parse get branch response: %w", err)
	}
	return strings.TrimSpace(out.TransactionRID), nil
}

// ReadTableCSV reads the dataset as CSV bytes, pinned to the branch's latest transaction.
func (c *Client) ReadTableCSV(ctx context.Context, datasetRID, branch string) ([]byte, error) {
	branch = defaultBranch(branch)

	txnRID, err := c.GetBranchTransactionRID(ctx, datasetRID, branch)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("branchName", branch)
	if txnRID != "" {
		q.Set("startTransactionRid", txnRID)
		q.Set("endTransactionRid", txnRID)
	}
	q.Set("format", "CSV")

	return c.do(ctx, request{
		op:     "readTable",
		method: http.MethodGet,
		path:   fmt.Sprintf("v2/datasets/%s/readTable", url.PathEscape(datasetRID)),
		query:  q,
		accept: "text/csv",
	})
}

type createTxnRequest struct {
	TransactionType string `json:"transactionType"`
}

type createTxnResponse struct {
	RID string `json:"rid"`
}

// CreateTransaction opens a SNAPSHOT transaction on the branch and returns its RID.
func (c *Client) CreateTransaction(ctx context.Context, datasetRID, branch string) (string, error) {
	body, err := json.Marshal(createTxnRequest{TransactionType: "SNAPSHOT"})
	if err != nil {
		return "", err
	}
	q := url.Values{}
	if strings.TrimSpace(branch) != "" {
		q.Set("branchName", strings.TrimSpace(branch))
	}

	rb, err := c.do(ctx, request{
		op:          "createTransaction",
		method:      http.MethodPost,
		path:        fmt.Sprintf("v2/datasets/%s/transactions", url.PathEscape(datasetRID)),
		query:       q,
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return "", err
	}

	var out createTxnResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return "", fmt.Errorf("parse create transaction response: %w", err)
	}
	if rid := strings.TrimSpace(out.RID); rid != "" {
		return rid, nil
	}
	return "", fmt.Errorf("create transaction response missing rid")
}

type Transaction struct {
	TransactionType string  `json:"transactionType"`
	CreatedTime     string  `json:"createdTime"`
	RID             string  `json:"rid"`
	ClosedTime      *string `json:"closedTime,omitempty"`
	Status          string  `json:"status"`
}

type listTxnsResponse struct {
	Data          []Transaction `json:"data"`
	NextPageToken string        `json:"nextPageToken"`
}

// ListTransactions lists transactions for a dataset, newest first. The endpoint is a
// preview API and needs preview=true.
func (c *Client) ListTransactions(ctx context.Context, datasetRID string, pageSize int, pageToken string) ([]Transaction, string, error) {
	q := url.Values{}
	q.Set("preview", "true")
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if t := strings.TrimSpace(pageToken); t != "" {
		q.Set("pageToken", t)
	}

	rb, err := c.do(ctx, request{
		op:     "listTransactions",
		method: http.MethodGet,
		path:   fmt.Sprintf("v2/datasets/%s/transactions", url.PathEscape(datasetRID)),
		query:  q,
	})
	if err != nil {
		return nil, "", err
	}

	var out listTxnsResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return nil, "", fmt.Errorf("parse list transactions response: %w", err)
	}
	return out.Data, strings.TrimSpace(out.NextPageToken), nil
}

// FindLatestOpenTransaction returns the RID of the newest OPEN transaction, if any.
func (c *Client) FindLatestOpenTransaction(ctx context.Context, datasetRID string) (string, bool, error) {
	pageToken := ""
	for i := 0; i < 5; i++ {
		txns, next, err := c.ListTransactions(ctx, datasetRID, 100, pageToken)
		if err != nil {
			return "", false, err
		}
		for _, t := range txns {
			if strings.EqualFold(strings.TrimSpace(t.Status), "OPEN") && strings.TrimSpace(t.RID) != "" {
				return strings.TrimSpace(t.RID), true, nil
			}
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	return "", false, nil
}

// UploadFile uploads file bytes to a path inside the transaction.
func (c *Client) UploadFile(ctx context.Context, datasetRID, txnRID, filePath, contentType string, b []byte) error {
	q := url.Values{}
	if t := strings.TrimSpace(txnRID); t != "" {
		q.Set("transactionRid", t)
	}
	if b == nil {
		b = []byte{}
	}
	_, err := c.do(ctx, request{
		op:          "uploadFile",
		method:      http.MethodPost,
		path:        fmt.Sprintf("v2/datasets/%s/files/%s/upload", url.PathEscape(datasetRID), escapeURLPath(filePath)),
		query:       q,
		body:        b,
		contentType: contentType,
	})
	return err
}

// CommitTransaction commits a transaction.
func (c *Client) CommitTransaction(ctx context.Context, datasetRID, txnRID string) error {
	_, err := c.do(ctx, request{
		op:     "commitTransaction",
		method: http.MethodPost,
		path:   fmt.Sprintf("v2/datasets/%s/transactions/%s/commit", url.PathEscape(datasetRID), url.PathEscape(txnRID)),
	})
	return err
}

func (c *Client) resolveAPI(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	// relPath segments are already escaped; Parse keeps them that way.
	rel, err := url.Parse(relPath)
	if err != nil {
		rel = &url.URL{Path: relPath}
	}
	return c.apiBaseURL.ResolveReference(rel)
}

func defaultBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return "master"
	}
	return branch
}

// escapeURLPath escapes each segment of p, keeping "/" separators.
func escapeURLPath(p string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "." || cleaned == "" {
		return ""
	}
	parts := strings.Split(cleaned, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
