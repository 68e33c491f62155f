//go:build !windows

package tidekv

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

type dirLock struct {
	f *os.File
}

// acquireLock takes an exclusive, non-blocking flock on the LOCK file so
// two processes cannot open the same directory at once.
func acquireLock(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("already locked: %w", err)
	}
	return &dirLock{f: f}, nil
}

func (l *dirLock) Close() error {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}
