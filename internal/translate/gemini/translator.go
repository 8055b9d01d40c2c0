package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/core"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Translator translates text with a Gemini model using structured JSON output.
type Translator struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Translator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Translator{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

type responseSchema struct {
	Translation string `json:"translation"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"translation": {Type: genai.TypeString},
	},
	Required: []string{"translation"},
}

func (t *Translator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if strings.TrimSpace(targetLang) == "" {
		return "", &core.PermanentError{Err: errors.New("gemini: empty target language")}
	}

	resp, err := t.client.Models.GenerateContent(
		ctx,
		t.model,
		genai.Text(buildPrompt(text, sourceLang, targetLang)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}

	var parsed responseSchema
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		// Malformed model output is usually a one-off.
		return "", &core.TransientError{Err: fmt.Errorf("gemini: parse structured json: %w", err)}
	}
	return parsed.Translation, nil
}

func buildPrompt(text, sourceLang, targetLang string) string {
	from := "the detected source language"
	if sourceLang != "" && sourceLang != "auto" {
		from = sourceLang
	}
	return strings.TrimSpace(`
You are a translation tool for game data. Translate the text below from ` + from + ` into the language with code "` + targetLang + `".

Return ONLY a single JSON object with one key:
- translation (string)

Rules:
- Keep placeholder tokens in curly braces (for example {PCT0}) exactly as they are.
- Keep numbers, punctuation and line breaks.
- Do not add explanations.

Text:
` + text + `
`)
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		if apiErr.Code/100 == 4 {
			return &core.PermanentError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &core.TransientError{Err: err}
	}
	return err
}
