//go:build !darwin

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Outside macOS everything follows the XDG base directories:
//
//	$XDG_CONFIG_HOME/qabot/config.json   plain settings
//	$XDG_CONFIG_HOME/qabot/secrets.json  secrets, keyed by account
//	$XDG_DATA_HOME/qabot/                database, index cache, lock, pid file

const appName = "qabot"

// xdgDir returns $env, or ~/<fallback> when it is unset.
func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, fallback)
	}
	return "."
}

func configDir() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), appName)
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), appName)
}

func secretsPath(service string) string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), service, "secrets.json")
}

func secretHint() string {
	return secretsPath(secretService)
}

// jsonStore is a flat JSON object kept in one file. Writes replace the file
// atomically with mode 0600.
type jsonStore struct {
	path string
}

// read returns the stored object. A missing file reads as empty.
func (s jsonStore) read() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return m, nil
}

func (s jsonStore) write(m map[string]any) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// fileBackend keeps plain settings in config.json.
type fileBackend struct {
	store jsonStore
	data  map[string]any
}

func newPlatformBackend() ConfigBackend {
	return openFileBackend(filepath.Join(configDir(), "config.json"))
}

func openFileBackend(path string) *fileBackend {
	b := &fileBackend{store: jsonStore{path: path}}
	data, err := b.store.read()
	if err != nil {
		slog.Warn("ignoring unreadable config file", "path", path, "error", err)
		data = map[string]any{}
	}
	b.data = data
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case json.Number:
		return val.String(), true, nil
	default:
		return fmt.Sprint(val), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	s, ok, _ := b.GetString(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.data[key] = val
	return b.store.write(b.data)
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return b.store.write(b.data)
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.store.write(b.data)
}

func keychainGet(service, account string) ([]byte, error) {
	secrets, err := jsonStore{path: secretsPath(service)}.read()
	if err != nil {
		return nil, fmt.Errorf("reading secrets: %w", err)
	}
	v, ok := secrets[account].(string)
	if !ok || v == "" {
		return nil, fmt.Errorf("no secret %s/%s", service, account)
	}
	return []byte(v), nil
}

// keychainSet stores value for account. An empty value removes it.
func keychainSet(service, account, value string) error {
	store := jsonStore{path: secretsPath(service)}
	secrets, err := store.read()
	if err != nil {
		return fmt.Errorf("reading secrets: %w", err)
	}
	if value == "" {
		delete(secrets, account)
	} else {
		secrets[account] = value
	}
	return store.write(secrets)
}
