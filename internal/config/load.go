package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TRANSLATOR"

// FlagKeys maps command-line flag names to configuration keys. Commands only need to
// define the flags they use; Load binds whichever of these exist.
var FlagKeys = map[string]string{
	"log-level":           "log.level",
	"log-format":          "log.format",
	"target-lang":         "translation.target_lang",
	"concurrent-requests": "translation.concurrent_requests",
	"throttle-every":      "translation.throttle_every",
	"request-delay":       "translation.request_delay",
	"retry-attempts":      "translation.retry_attempts",
	"backoff-base":        "translation.backoff_base",
	"request-timeout":     "translation.request_timeout",
	"rate-limit-rps":      "translation.rate_limit_rps",
	"provider":            "provider.name",
	"gemini-model":        "provider.gemini_model",
	"redis-addr":          "cache.redis_addr",
	"addr":                "server.addr",
	"input-alias":         "foundry.input_alias",
	"output-alias":        "foundry.output_alias",
	"output-filename":     "foundry.output_filename",
}

type LoadOptions struct {
	// ConfigFile is an optional YAML file. A missing explicit file is an error.
	ConfigFile string
	Flags      *pflag.FlagSet
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("translation.target_lang", "")
	v.SetDefault("translation.concurrent_requests", 1000)
	v.SetDefault("translation.throttle_every", 1500)
	v.SetDefault("translation.request_delay", "500ms")
	v.SetDefault("translation.retry_attempts", 3)
	v.SetDefault("translation.backoff_base", "1s")
	v.SetDefault("translation.backoff_max", "0s")
	v.SetDefault("translation.request_timeout", "30s")
	v.SetDefault("translation.rate_limit_rps", 0)
	v.SetDefault("translation.progress_every", 100)

	v.SetDefault("provider.name", "gtx")
	v.SetDefault("provider.gtx_base_url", "")
	v.SetDefault("provider.gemini_api_key", "")
	v.SetDefault("provider.gemini_model", "gemini-2.5-flash")
	v.SetDefault("provider.gemini_base_url", "")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "720h")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_texts", 500)

	v.SetDefault("foundry.input_alias", "input")
	v.SetDefault("foundry.output_alias", "output")
	v.SetDefault("foundry.output_filename", "translations.csv")
}

// Load builds and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// GEMINI_API_KEY and GEMINI_MODEL are honored without the prefix.
	if err := v.BindEnv("provider.gemini_api_key", envPrefix+"_PROVIDER_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("provider.gemini_model", envPrefix+"_PROVIDER_GEMINI_MODEL", "GEMINI_MODEL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}
