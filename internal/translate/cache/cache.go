// Package cache is a read-through Redis cache in front of a translation capability.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate"
)

const keyPrefix = "translate:cache:"

type Options struct {
	// TTL of cached translations. Zero keeps them forever.
	TTL    time.Duration
	Logger *slog.Logger
}

// Translator caches successful translations keyed by source hint, target language and text.
// Redis failures are logged and bypass the cache; they never fail a translation.
type Translator struct {
	next   translate.Translator
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func New(next translate.Translator, client *redis.Client, opts Options) *Translator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{next: next, client: client, ttl: opts.TTL, logger: logger}
}

func (t *Translator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	key := Key(text, sourceLang, targetLang)

	cached, err := t.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached, nil
	case errors.Is(err, redis.Nil):
	default:
		t.logger.Warn("translation cache read failed", "error", err)
	}

	out, err := t.next.Translate(ctx, text, sourceLang, targetLang)
	if err != nil {
		return "", err
	}
	if err := t.client.Set(ctx, key, out, t.ttl).Err(); err != nil {
		t.logger.Warn("translation cache write failed", "error", err)
	}
	return out, nil
}

// Key returns the Redis key for one translation.
func Key(text, sourceLang, targetLang string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + sourceLang + ":" + targetLang + ":" + hex.EncodeToString(sum[:])
}
