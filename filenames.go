package tidekv

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Tables and WAL segments are named by generation from one shared
// counter, zero-padded so lexicographic order is generation order.
const (
	lockFileName = "LOCK"
	tableSuffix  = ".sst"
	walSuffix    = ".wal"
	tmpSuffix    = ".tmp"

	genDigits = 20
)

func tableFilePath(dir string, gen uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", gen, tableSuffix))
}

func walFilePath(dir string, gen uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", gen, walSuffix))
}

// parseFileName extracts the generation from a table or WAL file name.
// Names that don't match the scheme return ok == false and are ignored
// by recovery.
func parseFileName(name string) (gen uint64, suffix string, ok bool) {
	for _, s := range []string{tableSuffix, walSuffix} {
		base, found := strings.CutSuffix(name, s)
		if !found {
			continue
		}
		if len(base) != genDigits {
			return 0, "", false
		}
		n, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			return 0, "", false
		}
		return n, s, true
	}
	return 0, "", false
}
