package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface. It answers
// only for the googlechat_webhook_url account.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if account != "googlechat_webhook_url" {
		return "", errors.New("not found")
	}
	return m.value, nil
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]string

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (m mapBackend) SetString(key, val string) error {
	m[key] = val
	return nil
}

func (m mapBackend) SetInt(key string, val int) error {
	m[key] = fmt.Sprint(val)
	return nil
}

func (m mapBackend) Delete(key string) error {
	delete(m, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{err: errors.New("no keychain")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5123 {
		t.Errorf("Server.Port = %d, want 5123", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Matcher.Threshold != 0.3 {
		t.Errorf("Matcher.Threshold = %v, want 0.3", cfg.Matcher.Threshold)
	}
	if cfg.Matcher.FoldDiacritics {
		t.Error("Matcher.FoldDiacritics should default to false")
	}
	if cfg.Matcher.CacheSize != 256 {
		t.Errorf("Matcher.CacheSize = %d, want 256", cfg.Matcher.CacheSize)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Notify.RatePerMinute != 30 {
		t.Errorf("Notify.RatePerMinute = %d, want 30", cfg.Notify.RatePerMinute)
	}
	if !strings.HasPrefix(cfg.Bot.FallbackAnswer, "Xin lỗi") {
		t.Errorf("Bot.FallbackAnswer = %q", cfg.Bot.FallbackAnswer)
	}
	if cfg.GoogleChat.WebhookURL != "" {
		t.Errorf("WebhookURL = %q, want empty", cfg.GoogleChat.WebhookURL)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir should have a default")
	}
}

// TestBackendValues verifies that every typed key is read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := mapBackend{
		"server.host":             "127.0.0.1",
		"server.port":             "8080",
		"storage.data_dir":        "/tmp/qabot-test",
		"log.level":               "debug",
		"matcher.threshold":       "0.45",
		"matcher.fold_diacritics": "true",
		"matcher.cache_size":      "16",
		"bot.fallback_answer":     "Chưa biết",
		"notify.rate_per_minute":  "5",
		// Secrets are never read from the plain backend.
		"googlechat.webhook_url": "https://leaked.example",
	}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.Storage.DataDir != "/tmp/qabot-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Matcher.Threshold != 0.45 {
		t.Errorf("Matcher.Threshold = %v", cfg.Matcher.Threshold)
	}
	if !cfg.Matcher.FoldDiacritics {
		t.Error("Matcher.FoldDiacritics = false, want true")
	}
	if cfg.Matcher.CacheSize != 16 {
		t.Errorf("Matcher.CacheSize = %d", cfg.Matcher.CacheSize)
	}
	if cfg.Bot.FallbackAnswer != "Chưa biết" {
		t.Errorf("Bot.FallbackAnswer = %q", cfg.Bot.FallbackAnswer)
	}
	if cfg.Notify.RatePerMinute != 5 {
		t.Errorf("Notify.RatePerMinute = %d", cfg.Notify.RatePerMinute)
	}
	if cfg.GoogleChat.WebhookURL != "" {
		t.Errorf("WebhookURL = %q, secret must not come from the backend", cfg.GoogleChat.WebhookURL)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("QABOT_SERVER_PORT", "9000")
	t.Setenv("QABOT_MATCHER_THRESHOLD", "0.5")
	t.Setenv("QABOT_MATCHER_FOLD_DIACRITICS", "1")
	t.Setenv("QABOT_GOOGLECHAT_WEBHOOK_URL", "https://chat.example/env")

	cfg, err := loadWith(mapBackend{"server.port": "8080"}, mockKeychain{value: "https://chat.example/keychain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Matcher.Threshold != 0.5 {
		t.Errorf("Matcher.Threshold = %v, want 0.5", cfg.Matcher.Threshold)
	}
	if !cfg.Matcher.FoldDiacritics {
		t.Error("Matcher.FoldDiacritics = false, want true")
	}
	if cfg.GoogleChat.WebhookURL != "https://chat.example/env" {
		t.Errorf("WebhookURL = %q, env must win over keychain", cfg.GoogleChat.WebhookURL)
	}
}

// TestBadEnvValueKeepsDefault verifies unparsable env values are ignored.
func TestBadEnvValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("QABOT_SERVER_PORT", "eighty")

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5123 {
		t.Errorf("Server.Port = %d, want default 5123", cfg.Server.Port)
	}
}

// TestKeychainFallback verifies the secret store is consulted when no webhook is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{value: "https://chat.example/keychain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GoogleChat.WebhookURL != "https://chat.example/keychain" {
		t.Errorf("WebhookURL = %q", cfg.GoogleChat.WebhookURL)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	cases := map[string]mapBackend{
		"port":      {"server.port": "70000"},
		"threshold": {"matcher.threshold": "1.5"},
		"negative":  {"matcher.threshold": "-0.1"},
		"cache":     {"matcher.cache_size": "0"},
		"level":     {"log.level": "verbose"},
	}
	for name, b := range cases {
		if _, err := loadWith(b, mockKeychain{}); err == nil || !strings.Contains(err.Error(), "invalid config") {
			t.Errorf("%s: expected invalid config error, got %v", name, err)
		}
	}
}

func TestZeroThresholdIsValid(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{"matcher.threshold": "0"}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Matcher.Threshold != 0 {
		t.Errorf("Matcher.Threshold = %v, want 0", cfg.Matcher.Threshold)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBaseURL(t *testing.T) {
	cfg := defaults()
	if got := cfg.BaseURL(); got != "http://127.0.0.1:5123" {
		t.Errorf("BaseURL() = %q", got)
	}
	cfg.Server.Host = "bot.internal"
	if got := cfg.BaseURL(); got != "http://bot.internal:5123" {
		t.Errorf("BaseURL() = %q", got)
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)
	b := mapBackend{"matcher.threshold": "0.6", "server.port": "8081"}
	var cleared string
	setSecret := func(service, account, value string) error {
		if value != "" {
			t.Errorf("unset stored %q for %s", value, account)
		}
		cleared = account
		return nil
	}

	if err := unsetKeyWith(b, setSecret, "matcher.threshold"); err != nil {
		t.Fatalf("unsetKeyWith: %v", err)
	}
	if _, ok := b["matcher.threshold"]; ok {
		t.Error("matcher.threshold still stored")
	}
	if err := unsetKeyWith(b, setSecret, "googlechat.webhook_url"); err != nil {
		t.Fatalf("unset secret: %v", err)
	}
	if cleared != "googlechat_webhook_url" {
		t.Errorf("cleared account = %q", cleared)
	}
	if err := unsetKeyWith(b, setSecret, "nope"); err == nil {
		t.Error("expected unknown key error")
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Matcher.Threshold != 0.3 || cfg.Server.Port != 8081 {
		t.Errorf("threshold = %v, port = %d", cfg.Matcher.Threshold, cfg.Server.Port)
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}
	var gotSecret string
	var gotAccount string
	setSecret := func(service, account, value string) error {
		if service != "qabot" {
			t.Errorf("secret stored under service %s", service)
		}
		gotAccount, gotSecret = account, value
		return nil
	}

	for key, val := range map[string]string{
		"server.port":             "8081",
		"matcher.threshold":       "0.25",
		"matcher.fold_diacritics": "yes",
		"bot.fallback_answer":     "Hmm",
	} {
		err := setKeyWith(b, setSecret, key, val)
		if key == "matcher.fold_diacritics" {
			if err == nil {
				t.Error("expected bool parse error for \"yes\"")
			}
			continue
		}
		if err != nil {
			t.Fatalf("setKeyWith(%s): %v", key, err)
		}
	}
	if b["server.port"] != "8081" || b["matcher.threshold"] != "0.25" || b["bot.fallback_answer"] != "Hmm" {
		t.Errorf("backend = %v", b)
	}

	if err := setKeyWith(b, setSecret, "googlechat.webhook_url", "https://chat.example/x"); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	if gotAccount != "googlechat_webhook_url" || gotSecret != "https://chat.example/x" {
		t.Errorf("secret = %s/%q", gotAccount, gotSecret)
	}
	if _, ok := b["googlechat.webhook_url"]; ok {
		t.Error("secret leaked into the plain backend")
	}

	if err := setKeyWith(b, setSecret, "server.port", "abc"); err == nil {
		t.Error("expected integer parse error")
	}
	if err := setKeyWith(b, setSecret, "nope", "1"); err == nil {
		t.Error("expected unknown key error")
	}

	clearEnv(t)
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 8081 || cfg.Matcher.Threshold != 0.25 {
		t.Errorf("round trip through backend failed: %+v", cfg)
	}
}

func TestShowAllMasksSecret(t *testing.T) {
	cfg := defaults()
	cfg.GoogleChat.WebhookURL = "https://chat.googleapis.com/v1/spaces/AAA/messages?key=secret"

	var found bool
	for _, k := range ShowAll(cfg) {
		if k.Key != "googlechat.webhook_url" {
			continue
		}
		found = true
		if !k.Secret || strings.Contains(k.Value, "key=secret") {
			t.Errorf("secret not masked: %+v", k)
		}
	}
	if !found {
		t.Error("webhook key missing from ShowAll")
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys() = %v", ValidKeys())
	}
}
