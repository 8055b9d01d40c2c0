package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/config"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate/cache"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate/gemini"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate/gtx"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/redact"
)

// NewTranslator builds the configured translation capability, behind the Redis cache when
// cache.redis_addr is set. The returned func releases the cache connection.
func NewTranslator(ctx context.Context, cfg config.Config, logger *slog.Logger) (translate.Translator, func() error, error) {
	var tr translate.Translator
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Name)) {
	case "", "gtx":
		c, err := gtx.New(gtx.Config{BaseURL: cfg.Provider.GTXBaseURL})
		if err != nil {
			return nil, nil, err
		}
		tr = c
	case "gemini":
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.Provider.GeminiAPIKey,
			Model:   cfg.Provider.GeminiModel,
			BaseURL: cfg.Provider.GeminiBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		tr = g
	default:
		return nil, nil, fmt.Errorf("unknown provider %q (expected gtx|gemini)", cfg.Provider.Name)
	}

	closeFn := func() error { return nil }
	if addr := strings.TrimSpace(cfg.Cache.RedisAddr); addr != "" {
		client, err := cache.Dial(ctx, addr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		tr = cache.New(tr, client, cache.Options{TTL: cfg.Cache.TTL, Logger: logger})
		closeFn = client.Close
		logger.Info("translation cache enabled", "redis_addr", addr, "ttl", cfg.Cache.TTL)
	}
	return tr, closeFn, nil
}

// tracedTranslator logs every remote call at debug level and counts them.
type tracedTranslator struct {
	next   translate.Translator
	logger *slog.Logger
	calls  atomic.Int64
}

func newTracedTranslator(next translate.Translator, logger *slog.Logger) *tracedTranslator {
	return &tracedTranslator{next: next, logger: logger}
}

func (t *tracedTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	n := t.calls.Add(1)

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}

	start := time.Now()
	out, err := t.next.Translate(ctx, text, sourceLang, targetLang)
	attrs := []any{
		"call", n,
		"chars", len([]rune(text)),
		"duration", time.Since(start).Round(time.Millisecond),
		"deadline_in", deadlineIn,
	}
	if err != nil {
		t.logger.Debug("translate call failed", append(attrs, "error", redact.Secrets(err.Error()))...)
		return out, err
	}
	t.logger.Debug("translate call ok", attrs...)
	return out, nil
}

func (t *tracedTranslator) Calls() int64 {
	return t.calls.Load()
}
