package config

// ConfigBackend stores plain (non-secret) settings by dotted key. The
// platform implementation comes from newPlatformBackend.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	// Delete removes key so its default applies again. Missing keys are
	// not an error.
	Delete(key string) error
}
