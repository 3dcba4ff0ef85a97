package switcher

import (
	"os"
	"syscall"

	"github.com/cockroachdb/errors"
)

// Flock wraps an open file with a non-blocking advisory lock.
// Concurrent runs against the same apt state are unsafe, so a held
// lock fails fast instead of queueing.
type Flock struct {
	*os.File
}

// Lock acquires the lock or fails immediately if it is held.
func (l Flock) Lock() error {
	err := syscall.Flock(int(l.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return errors.New("another sourcectl run is in progress")
	}
	return err
}

// Unlock releases the lock.
func (l Flock) Unlock() error {
	return syscall.Flock(int(l.Fd()), syscall.LOCK_UN)
}
