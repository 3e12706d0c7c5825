package engine

import "errors"

var (
	// ErrValidation is returned for empty questions/answers and malformed references.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a record id or position does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrPersistence wraps store failures. The in-memory index is left untouched.
	ErrPersistence = errors.New("persistence failed")
	// ErrIndexBuild wraps vectorizer failures. Nothing is written when it is returned.
	ErrIndexBuild = errors.New("index build failed")
	// ErrLocked is returned by Open when another process owns the data directory.
	ErrLocked = errors.New("data directory is locked by another process")
	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("engine is closed")
)
