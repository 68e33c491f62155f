package tidekv

import "sync/atomic"

// Stats is a point-in-time snapshot of engine counters and gauges.
// Counters are monotonic over the life of one DB handle; gauges reflect
// the state at the moment of the call.
type Stats struct {
	// Counters.
	Puts        uint64 // successful Put operations
	Deletes     uint64 // successful Delete operations
	Gets        uint64 // Get operations, hit or miss
	Hits        uint64 // Gets that returned a value
	Misses      uint64 // Gets that found nothing or a tombstone
	Flushes     uint64 // MemTables flushed to tables
	Compactions uint64 // completed compactions

	// Gauges.
	MemTableSize     int64 // approximate bytes in the active MemTable
	PendingMemTables int   // frozen MemTables awaiting flush
	Tables           int   // live tables
}

// counters is the internal atomic mirror of the Stats counters.
type counters struct {
	puts        atomic.Uint64
	deletes     atomic.Uint64
	gets        atomic.Uint64
	hits        atomic.Uint64
	misses      atomic.Uint64
	flushes     atomic.Uint64
	compactions atomic.Uint64
}

// Stats returns a snapshot of the engine counters and gauges. It is
// safe to call concurrently with any other operation, including on a
// closed DB.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	memSize := db.active.ApproximateSize()
	pending := len(db.pending)
	tables := len(db.tables)
	db.mu.RUnlock()

	return Stats{
		Puts:        db.counters.puts.Load(),
		Deletes:     db.counters.deletes.Load(),
		Gets:        db.counters.gets.Load(),
		Hits:        db.counters.hits.Load(),
		Misses:      db.counters.misses.Load(),
		Flushes:     db.counters.flushes.Load(),
		Compactions: db.counters.compactions.Load(),

		MemTableSize:     memSize,
		PendingMemTables: pending,
		Tables:           tables,
	}
}
