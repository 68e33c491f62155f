//go:build windows

package tidekv

import (
	"io"
	"os"
)

type dirLock struct {
	f *os.File
}

// acquireLock opens the LOCK file exclusively. Windows has no flock;
// the exclusive open is a best-effort guard against concurrent opens.
func acquireLock(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &dirLock{f: f}, nil
}

func (l *dirLock) Close() error {
	return l.f.Close()
}
