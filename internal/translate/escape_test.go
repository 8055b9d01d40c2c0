package translate_test

import (
	"context"
	"strings"
	"testing"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
)

func TestEscape_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"Stun",
		"Heals 10% HP",
		"%",
		"%%",
		"100%% sure, 5% off, 20%",
		"{PCT0}%",
		"{PCT%",
		"{PCT_1} and {PCT0} at 50%",
		"ünïcødé 7% 💥",
	}
	for _, s := range cases {
		esc := translate.Escape(s)
		if strings.Contains(esc.Text, "%") {
			t.Fatalf("escaped text still has '%%': %q -> %q", s, esc.Text)
		}
		if got := esc.Unescape(esc.Text); got != s {
			t.Fatalf("round trip mismatch: %q -> %q -> %q", s, esc.Text, got)
		}
	}
}

func TestEscape_TokensAreIndexed(t *testing.T) {
	t.Parallel()

	esc := translate.Escape("a%b%c")
	if esc.Text != "a{PCT0}b{PCT1}c" {
		t.Fatalf("unexpected escaped text: %q", esc.Text)
	}
	// The service may reorder tokens; each one still maps back to '%'.
	if got := esc.Unescape("c{PCT1}a{PCT0}b"); got != "c%a%b" {
		t.Fatalf("unexpected unescape: %q", got)
	}
}

func TestEscape_AvoidsCollisionWithInput(t *testing.T) {
	t.Parallel()

	esc := translate.Escape("{PCT0} costs 5%")
	if !strings.Contains(esc.Text, "{PCT0} costs ") {
		t.Fatalf("literal text was rewritten: %q", esc.Text)
	}
	if strings.Contains(esc.Text, "5{PCT0}") || !strings.Contains(esc.Text, "{PCT_0}") {
		t.Fatalf("expected lengthened token prefix, got %q", esc.Text)
	}
	if got := esc.Unescape(esc.Text); got != "{PCT0} costs 5%" {
		t.Fatalf("unexpected unescape: %q", got)
	}
}

func TestRetrier_PreservesPercentThroughCorruptingService(t *testing.T) {
	t.Parallel()

	stripPercent := translate.TranslatorFunc(func(_ context.Context, text, _, _ string) (string, error) {
		return strings.ReplaceAll(text, "%", ""), nil
	})
	r := translate.NewRetrier(stripPercent, translate.RetryOptions{MaxRetries: 3})

	res := r.Translate(context.Background(), translate.Task{ID: "1407", SourceText: "Heals 10% HP"}, "fr")
	if !res.Succeeded {
		t.Fatalf("expected success, got %#v", res)
	}
	if res.TranslatedText != "Heals 10% HP" {
		t.Fatalf("expected '%%' to survive, got %q", res.TranslatedText)
	}
}
