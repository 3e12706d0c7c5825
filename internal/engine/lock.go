package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created in the data directory while an engine owns it.
const LockFileName = "qabot.lock"

// dirLock marks a data directory as owned by one process.
type dirLock struct {
	flock  *flock.Flock
	locked bool
}

func newDirLock(dir string) *dirLock {
	return &dirLock{flock: flock.New(filepath.Join(dir, LockFileName))}
}

// tryLock acquires the lock without blocking and reports whether it did.
func (l *dirLock) tryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return false, fmt.Errorf("creating lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	l.locked = ok
	return ok, nil
}

// unlock is safe to call on a lock that is not held.
func (l *dirLock) unlock() error {
	if l == nil || !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}
