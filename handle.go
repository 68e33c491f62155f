package tidekv

import (
	"os"
	"sync/atomic"

	"github.com/aalhour/tidekv/internal/logging"
	"github.com/aalhour/tidekv/internal/table"
)

// tableHandle reference-counts a live table so compaction can retire
// input files without pulling them out from under in-flight reads. The
// table set holds one reference; every read snapshot takes another. The
// last release closes the reader and, when the handle was marked
// obsolete, deletes the file.
type tableHandle struct {
	gen      uint64
	reader   *table.Reader
	refs     atomic.Int32
	obsolete atomic.Bool
}

// openTableHandle opens and verifies the table at path, returning a
// handle holding the table-set reference.
func openTableHandle(path string, gen uint64) (*tableHandle, error) {
	r, err := table.Open(path)
	if err != nil {
		return nil, err
	}
	h := &tableHandle{gen: gen, reader: r}
	h.refs.Store(1)
	return h, nil
}

func (h *tableHandle) acquire() {
	h.refs.Add(1)
}

func (h *tableHandle) release(log logging.Logger) {
	if h.refs.Add(-1) != 0 {
		return
	}
	path := h.reader.Path()
	if err := h.reader.Close(); err != nil {
		log.Warnf(logging.NSDB+"close table %s: %v", path, err)
	}
	if h.obsolete.Load() {
		if err := os.Remove(path); err != nil {
			log.Warnf(logging.NSDB+"remove obsolete table %s: %v", path, err)
		} else {
			log.Debugf(logging.NSDB+"removed obsolete table %s", path)
		}
	}
}
