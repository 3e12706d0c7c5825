package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// secretService is the keychain service holding qabot's secrets.
const secretService = "qabot"

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Matcher    MatcherConfig
	Bot        BotConfig
	GoogleChat GoogleChatConfig
	Notify     NotifyConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type MatcherConfig struct {
	Threshold      float64
	FoldDiacritics bool
	CacheSize      int
}

type BotConfig struct {
	FallbackAnswer string
}

type GoogleChatConfig struct {
	WebhookURL string
}

type NotifyConfig struct {
	RatePerMinute int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5123,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Matcher: MatcherConfig{
			Threshold: 0.3,
			CacheSize: 256,
		},
		Bot: BotConfig{
			FallbackAnswer: "Xin lỗi, tôi chưa được train để trả lời câu hỏi này. Bạn có thể dạy tôi không?",
		},
		Notify: NotifyConfig{
			RatePerMinute: 30,
		},
	}
}

// Load layers defaults, the platform backend and QABOT_* environment
// variables, then fills unset secrets from the platform secret store
// (Keychain on macOS, secrets.json next to config.json elsewhere).
// A missing webhook URL is not an error; notifications are simply disabled.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that is out of range.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d is out of range", c.Server.Port)
	}
	if c.Matcher.Threshold < 0 || c.Matcher.Threshold > 1 {
		return fmt.Errorf("invalid config: matcher.threshold %v must be in [0, 1]", c.Matcher.Threshold)
	}
	if c.Matcher.CacheSize < 1 {
		return fmt.Errorf("invalid config: matcher.cache_size %d must be positive", c.Matcher.CacheSize)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("invalid config: storage.data_dir is empty")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLevel maps log.level values to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// Addr is the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BaseURL is the URL local clients use to reach the server.
func (c Config) BaseURL() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
