// Package gtx talks to the public web translation endpoint (translate_a/single, client=gtx).
package gtx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/redact"
)

const DefaultBaseURL = "https://translate.googleapis.com"

type Config struct {
	// BaseURL overrides DefaultBaseURL. Useful for proxies/testing.
	BaseURL string

	HTTPClient *http.Client
}

type Client struct {
	base *url.URL
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse gtx base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gtx base url %q", raw)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{base: u, http: hc}, nil
}

func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if sourceLang == "" {
		sourceLang = "auto"
	}
	targetLang = strings.TrimSpace(targetLang)
	if targetLang == "" {
		return "", &core.PermanentError{Err: errors.New("gtx: empty target language")}
	}

	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", sourceLang)
	q.Set("tl", targetLang)
	q.Set("dt", "t")
	q.Set("q", text)
	u := c.base.ResolveReference(&url.URL{Path: "translate_a/single", RawQuery: q.Encode()})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransportErr(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &core.TransientError{Err: fmt.Errorf("gtx: read response: %w", err)}
	}
	if resp.StatusCode/100 != 2 {
		return "", statusErr(resp, b)
	}
	return parseResponse(b)
}

// parseResponse joins the translated segments of a gtx response:
//
//	[[["Soigne 10 PV","Heals 10 HP",null,null,10]],null,"en",...]
func parseResponse(b []byte) (string, error) {
	var top []json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return "", fmt.Errorf("gtx: parse response: %w", err)
	}
	if len(top) == 0 {
		return "", errors.New("gtx: empty response")
	}
	var segments []json.RawMessage
	if err := json.Unmarshal(top[0], &segments); err != nil {
		return "", fmt.Errorf("gtx: parse segments: %w", err)
	}

	var sb strings.Builder
	for _, seg := range segments {
		var parts []json.RawMessage
		if err := json.Unmarshal(seg, &parts); err != nil || len(parts) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(parts[0], &s); err != nil {
			continue
		}
		sb.WriteString(s)
	}
	if sb.Len() == 0 {
		return "", errors.New("gtx: no translated segments")
	}
	return sb.String(), nil
}

func statusErr(resp *http.Response, body []byte) error {
	snippet := strings.TrimSpace(redact.Secrets(string(body)))
	if len(snippet) > 128 {
		snippet = snippet[:128] + "..."
	}
	err := fmt.Errorf("gtx: status %s: %s", resp.Status, snippet)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		return &core.TransientError{Err: err}
	}
	return &core.PermanentError{Err: err}
}

func classifyTransportErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
