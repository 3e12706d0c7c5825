package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // keychain account for secrets
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "QABOT_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "QABOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "QABOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "QABOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "matcher.threshold", typ: kFloat, env: "QABOT_MATCHER_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matcher.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matcher.Threshold },
	},
	{
		key: "matcher.fold_diacritics", typ: kBool, env: "QABOT_MATCHER_FOLD_DIACRITICS",
		apply:   func(cfg *Config, v any) { cfg.Matcher.FoldDiacritics = v.(bool) },
		extract: func(cfg Config) any { return cfg.Matcher.FoldDiacritics },
	},
	{
		key: "matcher.cache_size", typ: kInt, env: "QABOT_MATCHER_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Matcher.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Matcher.CacheSize },
	},
	{
		key: "bot.fallback_answer", typ: kString, env: "QABOT_BOT_FALLBACK_ANSWER",
		apply:   func(cfg *Config, v any) { cfg.Bot.FallbackAnswer = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.FallbackAnswer },
	},
	{
		key: "googlechat.webhook_url", typ: kString, env: "QABOT_GOOGLECHAT_WEBHOOK_URL",
		secret: true, account: "googlechat_webhook_url",
		apply:   func(cfg *Config, v any) { cfg.GoogleChat.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.GoogleChat.WebhookURL },
	},
	{
		key: "notify.rate_per_minute", typ: kInt, env: "QABOT_NOTIFY_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Notify.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.RatePerMinute },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
