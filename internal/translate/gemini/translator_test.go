package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/core"
)

type tempNetErr struct{}

func (tempNetErr) Error() string   { return "temp net err" }
func (tempNetErr) Timeout() bool   { return false }
func (tempNetErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
		wantPermanent bool
	}{
		{name: "nil", in: nil},
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true},
		{name: "api_500", in: genai.APIError{Code: 500}, wantTransient: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantPermanent: true},
		{name: "api_401", in: genai.APIError{Code: 401}, wantPermanent: true},
		{name: "net_temporary", in: tempNetErr{}, wantTransient: true},
		{name: "plain", in: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr(tt.in)
			var te *core.TransientError
			var pe *core.PermanentError
			if isTransient := errors.As(got, &te); isTransient != tt.wantTransient {
				t.Fatalf("transient=%v want=%v (err=%T %v)", isTransient, tt.wantTransient, got, got)
			}
			if isPermanent := errors.As(got, &pe); isPermanent != tt.wantPermanent {
				t.Fatalf("permanent=%v want=%v (err=%T %v)", isPermanent, tt.wantPermanent, got, got)
			}
		})
	}
}

func TestBuildPrompt_KeepsPlaceholdersAndLanguage(t *testing.T) {
	p := buildPrompt("Heals 10{PCT0} HP", "auto", "fr")
	if !strings.Contains(p, `"fr"`) || !strings.Contains(p, "Heals 10{PCT0} HP") {
		t.Fatalf("unexpected prompt: %s", p)
	}
	if !strings.Contains(p, "detected source language") {
		t.Fatalf("expected auto-detect wording: %s", p)
	}
}

func TestNew_RequiresKeyAndModel(t *testing.T) {
	if _, err := New(context.Background(), Config{Model: "m"}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if _, err := New(context.Background(), Config{APIKey: "k"}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
