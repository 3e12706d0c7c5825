//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// On macOS plain settings live in the com.qabot.app defaults domain, secrets
// in the login Keychain under the qabot service, and data under
// ~/Library/Application Support/qabot.

const defaultsDomain = "com.qabot.app"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "qabot")
	}
	return "qabot-data"
}

func secretHint() string {
	return "macOS Keychain (service: " + secretService + ")"
}

// defaultsBackend reads and writes the user defaults domain through the
// defaults tool. Exit status 1 means the key is absent.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) run(verb, key string, args ...string) (string, bool, error) {
	out, err := exec.Command("defaults", append([]string{verb, b.domain, key}, args...)...).CombinedOutput()
	s := strings.TrimSpace(string(out))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("defaults %s %s: %w: %s", verb, key, err, s)
	}
	return s, true, nil
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	return b.run("read", key)
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.run("read", key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	_, _, err := b.run("write", key, "-string", val)
	return err
}

func (b defaultsBackend) SetInt(key string, val int) error {
	_, _, err := b.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (b defaultsBackend) Delete(key string) error {
	_, _, err := b.run("delete", key)
	return err
}

func keychainGet(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}

// keychainSet stores value for account. An empty value removes it.
func keychainSet(service, account, value string) error {
	if value == "" {
		err := exec.Command("security", "delete-generic-password", "-s", service, "-a", account).Run()
		var exitErr *exec.ExitError
		// 44: item not found.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return nil
		}
		return err
	}
	return exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).Run()
}
