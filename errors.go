package tidekv

import (
	"errors"

	"github.com/aalhour/tidekv/internal/table"
)

// Common errors returned by DB operations.
var (
	// ErrInvalidConfig is returned by Open for nil or out-of-range
	// options.
	ErrInvalidConfig = errors.New("db: invalid configuration")

	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("db: closed")

	// ErrKeyTooLarge is returned when a key exceeds the maximum key
	// size.
	ErrKeyTooLarge = errors.New("db: key exceeds maximum size")

	// ErrValueTooLarge is returned when a value exceeds the maximum
	// value size.
	ErrValueTooLarge = errors.New("db: value exceeds maximum size")

	// ErrCorruption is reported when a table file fails structural or
	// checksum verification, at Open or during reads. It aliases the
	// table package's sentinel so errors.Is matches either.
	ErrCorruption = table.ErrCorrupted
)
