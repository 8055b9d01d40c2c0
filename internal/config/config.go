// Package config loads translator settings from defaults, an optional YAML file,
// TRANSLATOR_* environment variables and command-line flags, in increasing precedence.
package config

import (
	"time"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/pipeline"
)

// Config holds all application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Translation TranslationConfig `mapstructure:"translation"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Server      ServerConfig      `mapstructure:"server"`
	Foundry     FoundryConfig     `mapstructure:"foundry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// TranslationConfig tunes the pipeline. Zero ThrottleEvery disables the periodic pause.
type TranslationConfig struct {
	TargetLang         string        `mapstructure:"target_lang" validate:"omitempty,min=2,max=16"`
	ConcurrentRequests int           `mapstructure:"concurrent_requests" validate:"gt=0"`
	ThrottleEvery      int           `mapstructure:"throttle_every" validate:"gte=0"`
	RequestDelay       time.Duration `mapstructure:"request_delay" validate:"gte=0"`
	RetryAttempts      int           `mapstructure:"retry_attempts" validate:"gte=0,lte=10"`
	BackoffBase        time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffMax         time.Duration `mapstructure:"backoff_max" validate:"gte=0"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	RateLimitRPS       float64       `mapstructure:"rate_limit_rps" validate:"gte=0"`
	ProgressEvery      int           `mapstructure:"progress_every" validate:"gt=0"`
}

type ProviderConfig struct {
	Name          string `mapstructure:"name" validate:"required,oneof=gtx gemini"`
	GTXBaseURL    string `mapstructure:"gtx_base_url" validate:"omitempty,url"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key" validate:"required_if=Name gemini"`
	GeminiModel   string `mapstructure:"gemini_model" validate:"required_if=Name gemini"`
	GeminiBaseURL string `mapstructure:"gemini_base_url" validate:"omitempty,url"`
}

// CacheConfig enables the Redis translation cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	MaxTexts int    `mapstructure:"max_texts" validate:"gt=0"`
}

type FoundryConfig struct {
	InputAlias     string `mapstructure:"input_alias" validate:"required"`
	OutputAlias    string `mapstructure:"output_alias" validate:"required"`
	OutputFilename string `mapstructure:"output_filename" validate:"required"`
}

// PipelineOptions maps the translation settings onto pipeline options.
func (c Config) PipelineOptions() pipeline.Options {
	t := c.Translation
	return pipeline.Options{
		Workers:        t.ConcurrentRequests,
		ThrottleEvery:  t.ThrottleEvery,
		ThrottleDelay:  t.RequestDelay,
		RetryAttempts:  t.RetryAttempts,
		BackoffBase:    t.BackoffBase,
		BackoffMax:     t.BackoffMax,
		RequestTimeout: t.RequestTimeout,
		RateLimitRPS:   t.RateLimitRPS,
		ProgressEvery:  t.ProgressEvery,
	}
}
