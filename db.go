package tidekv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aalhour/tidekv/internal/logging"
	"github.com/aalhour/tidekv/internal/memtable"
	"github.com/aalhour/tidekv/internal/record"
	"github.com/aalhour/tidekv/internal/wal"
)

// DB is a durable, ordered key-value engine backed by a write-ahead log,
// an in-memory table, and immutable sorted tables on disk. A DB is safe
// for concurrent use by multiple goroutines.
type DB struct {
	dir  string
	opts Options
	log  logging.Logger
	lock io.Closer

	// writeMu serializes the write path: WAL append, MemTable apply,
	// and segment rotation. Lock order is writeMu before mu.
	writeMu sync.Mutex

	// mu guards the mutable engine state below.
	mu     sync.RWMutex
	closed bool
	bgErr  error
	active *memtable.MemTable
	wal    *wal.Writer
	// walPaths are the segments whose records live only in the active
	// MemTable; they replay on the next Open if the process dies.
	walPaths []string
	// pending holds frozen MemTables awaiting flush, oldest first.
	pending []*memtable.MemTable
	// tables holds the live sorted tables in ascending generation.
	tables []*tableHandle
	// nextGen is the next unused file generation.
	nextGen uint64

	worker   *worker
	counters counters
}

// Open opens the engine rooted at dir, creating the directory if needed.
// It recovers any state a previous process left behind: sorted tables
// are loaded, WAL segments are replayed into the MemTable, and orphaned
// temporary files are removed. A nil opts is rejected; use
// DefaultOptions.
//
// The directory is locked for the lifetime of the DB. A second Open on
// the same directory fails until Close releases the lock.
func Open(dir string, opts *Options) (*DB, error) {
	o, err := sanitize(opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("db: create directory: %w", err)
	}
	lock, err := acquireLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("db: lock %s: %w", dir, err)
	}

	db := &DB{
		dir:  dir,
		opts: o,
		log:  o.Logger,
		lock: lock,
	}
	if err := db.recover(); err != nil {
		db.releaseTables()
		_ = lock.Close()
		return nil, err
	}
	db.worker = newWorker(db)

	// A replayed MemTable can already be over the threshold. Freeze it
	// before accepting writes; the job waits in the queue until the
	// worker starts.
	if db.active.ApproximateSize() >= db.opts.MemTableThreshold {
		db.writeMu.Lock()
		_, err := db.rotate()
		db.writeMu.Unlock()
		if err != nil {
			_ = db.wal.Close()
			db.releaseTables()
			_ = lock.Close()
			return nil, err
		}
	}
	db.worker.start()

	db.log.Infof(logging.NSDB+"opened %s: %d tables, %d wal segments, next generation %d",
		dir, len(db.tables), len(db.walPaths), db.nextGen)
	return db, nil
}

// recover rebuilds engine state from the directory: orphaned temp files
// are deleted, tables load in ascending generation, and every WAL
// segment replays into a fresh MemTable in generation order so newer
// records win. It finishes by creating the active segment.
func (db *DB) recover() error {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return fmt.Errorf("db: read directory: %w", err)
	}

	var tableGens, walGens []uint64
	var maxGen uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, tmpSuffix) {
			// Leftover from an interrupted flush or compaction; it was
			// never part of the live set.
			if err := os.Remove(filepath.Join(db.dir, name)); err != nil {
				return fmt.Errorf("db: remove orphan %s: %w", name, err)
			}
			db.log.Infof(logging.NSRecovery+"removed orphan temp file %s", name)
			continue
		}
		gen, suffix, ok := parseFileName(name)
		if !ok {
			if name != lockFileName {
				db.log.Debugf(logging.NSRecovery+"ignoring %s", name)
			}
			continue
		}
		if gen > maxGen {
			maxGen = gen
		}
		switch suffix {
		case tableSuffix:
			tableGens = append(tableGens, gen)
		case walSuffix:
			walGens = append(walGens, gen)
		}
	}
	slices.Sort(tableGens)
	slices.Sort(walGens)

	for _, gen := range tableGens {
		h, err := openTableHandle(tableFilePath(db.dir, gen), gen)
		if err != nil {
			return fmt.Errorf("db: load table: %w", err)
		}
		db.tables = append(db.tables, h)
		db.log.Debugf(logging.NSRecovery+"loaded table %020d%s: %d bytes of records",
			gen, tableSuffix, h.reader.DataSize())
	}

	mem := memtable.New()
	var replayed []string
	total := 0
	for _, gen := range walGens {
		path := walFilePath(db.dir, gen)
		n, err := replaySegment(path, mem, db.log)
		if err != nil {
			return err
		}
		total += n
		replayed = append(replayed, path)
	}
	if total == 0 {
		// The segments replay to nothing, so there is no state to
		// carry; drop them instead of flushing an empty MemTable later.
		for _, path := range replayed {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("db: remove stale segment %s: %w", path, err)
			}
		}
		replayed = nil
	}

	db.nextGen = maxGen + 1
	gen := db.allocGen()
	path := walFilePath(db.dir, gen)
	w, err := wal.Create(path, db.opts.SyncMode == SyncAlways, db.opts.WALCompression)
	if err != nil {
		return fmt.Errorf("db: create wal segment: %w", err)
	}

	db.active = mem
	db.wal = w
	db.walPaths = append(replayed, path)
	return nil
}

// replaySegment applies every intact record of one WAL segment to mem.
// A truncated tail ends replay cleanly; records before the damage are
// kept.
func replaySegment(path string, mem *memtable.MemTable, log logging.Logger) (int, error) {
	r, err := wal.Open(path)
	if err != nil {
		return 0, fmt.Errorf("db: open wal segment: %w", err)
	}
	defer r.Close()

	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("db: replay %s: %w", filepath.Base(path), err)
		}
		if rec.Tombstone() {
			mem.Delete(rec.Key)
		} else {
			mem.Put(rec.Key, rec.Value)
		}
		n++
	}
	if r.Truncated() {
		log.Warnf(logging.NSRecovery+"segment %s damaged at offset %d, replayed %d records before it",
			filepath.Base(path), r.Offset(), n)
	} else {
		log.Debugf(logging.NSRecovery+"replayed segment %s: %d records", filepath.Base(path), n)
	}
	return n, nil
}

// allocGen returns the next unused file generation.
func (db *DB) allocGen() uint64 {
	db.mu.Lock()
	gen := db.nextGen
	db.nextGen++
	db.mu.Unlock()
	return gen
}

// Put stores value under key. An empty value is legal and distinct from
// the key being absent.
func (db *DB) Put(key, value []byte) error {
	if len(key) > record.MaxKeyLen {
		return ErrKeyTooLarge
	}
	if len(value) > record.MaxValueLen {
		return ErrValueTooLarge
	}
	return db.apply(record.Record{Key: key, Value: value, Kind: record.KindValue})
}

// Delete records a tombstone for key. It succeeds whether or not the
// key exists; the tombstone shadows any older value until compaction
// drops both.
func (db *DB) Delete(key []byte) error {
	if len(key) > record.MaxKeyLen {
		return ErrKeyTooLarge
	}
	return db.apply(record.Record{Key: key, Kind: record.KindTombstone})
}

// apply runs one record through the write path: WAL first, then the
// active MemTable, then a rotation check.
func (db *DB) apply(rec record.Record) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.writable(); err != nil {
		return err
	}

	// WAL before MemTable: a failed append must leave memory untouched,
	// otherwise reads would serve records that cannot be recovered.
	if err := db.wal.Append(rec); err != nil {
		return fmt.Errorf("db: wal append: %w", err)
	}
	if rec.Tombstone() {
		db.active.Delete(rec.Key)
		db.counters.deletes.Add(1)
	} else {
		db.active.Put(rec.Key, rec.Value)
		db.counters.puts.Add(1)
	}

	if db.active.ApproximateSize() >= db.opts.MemTableThreshold {
		if _, err := db.rotate(); err != nil {
			return err
		}
	}
	return nil
}

// writable reports whether the engine accepts writes. The caller holds
// writeMu.
func (db *DB) writable() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	if db.bgErr != nil {
		return fmt.Errorf("db: background flush failed: %w", db.bgErr)
	}
	return nil
}

// rotate seals the active WAL segment, freezes the MemTable, and hands
// both to the background worker. The replacement segment is created
// first so a failure leaves the engine running on the current one. The
// caller holds writeMu.
func (db *DB) rotate() (*flushJob, error) {
	gen := db.allocGen()
	path := walFilePath(db.dir, gen)
	next, err := wal.Create(path, db.opts.SyncMode == SyncAlways, db.opts.WALCompression)
	if err != nil {
		return nil, fmt.Errorf("db: create wal segment: %w", err)
	}
	// Sealing fsyncs the outgoing segment, which is the durability
	// point for batched mode.
	if err := db.wal.Close(); err != nil {
		_ = next.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("db: seal wal segment: %w", err)
	}

	frozen := db.active
	frozen.Freeze()
	job := &flushJob{mem: frozen, done: make(chan struct{})}

	db.mu.Lock()
	job.walPaths = db.walPaths
	db.active = memtable.New()
	db.wal = next
	db.walPaths = []string{path}
	db.pending = append(db.pending, frozen)
	db.mu.Unlock()

	// Enqueue outside mu: the bounded queue applies backpressure when
	// flushes fall behind, and blocking there must not stall readers.
	db.worker.enqueueFlush(job)
	db.log.Debugf(logging.NSDB+"rotated to wal generation %d, froze %d records", gen, frozen.Len())
	return job, nil
}

// Get returns the value stored under key, or (nil, nil) when the key is
// absent or deleted. The returned slice is owned by the caller. Reads
// run concurrently with writes, flushes, and compactions.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.counters.gets.Add(1)

	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return nil, ErrClosed
	}
	active := db.active
	frozen := make([]*memtable.MemTable, len(db.pending))
	copy(frozen, db.pending)
	handles := make([]*tableHandle, len(db.tables))
	copy(handles, db.tables)
	for _, h := range handles {
		h.acquire()
	}
	db.mu.RUnlock()
	defer func() {
		for _, h := range handles {
			h.release(db.log)
		}
	}()

	// Newest state first: the active MemTable, frozen MemTables from
	// newest to oldest, then tables from newest to oldest. The first
	// record found is definitive. MemTable hits are copied out; table
	// hits already own their bytes.
	if value, found, deleted := active.Get(key); found {
		return db.settle(bytes.Clone(value), deleted), nil
	}
	for i := len(frozen) - 1; i >= 0; i-- {
		if value, found, deleted := frozen[i].Get(key); found {
			return db.settle(bytes.Clone(value), deleted), nil
		}
	}
	for i := len(handles) - 1; i >= 0; i-- {
		value, found, deleted, err := handles[i].reader.Get(key)
		if err != nil {
			return nil, fmt.Errorf("db: read table %020d%s: %w", handles[i].gen, tableSuffix, err)
		}
		if found {
			return db.settle(value, deleted), nil
		}
	}

	db.counters.misses.Add(1)
	return nil, nil
}

// settle turns a definitive record into a Get result, counting a
// tombstone as a miss.
func (db *DB) settle(value []byte, deleted bool) []byte {
	if deleted {
		db.counters.misses.Add(1)
		return nil
	}
	db.counters.hits.Add(1)
	return value
}

// Flush freezes the active MemTable and blocks until it is durable as a
// sorted table. Flushing an empty MemTable is a no-op.
func (db *DB) Flush() error {
	db.writeMu.Lock()
	if err := db.writable(); err != nil {
		db.writeMu.Unlock()
		return err
	}
	if db.active.Len() == 0 {
		db.writeMu.Unlock()
		return nil
	}
	job, err := db.rotate()
	db.writeMu.Unlock()
	if err != nil {
		return err
	}
	<-job.done
	return job.err
}

// Compact merges every live table into at most one, dropping tombstones
// and superseded values. It blocks until the merge completes. Compacting
// fewer than two tables is still useful: a single table full of
// tombstones shrinks or disappears.
func (db *DB) Compact() error {
	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return db.worker.requestCompaction()
}

// Sync flushes buffered WAL appends and fsyncs the active segment. With
// SyncBatched it is the durability point between rotations; with
// SyncAlways every Put and Delete already synced.
func (db *DB) Sync() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := db.wal.Sync(); err != nil {
		return fmt.Errorf("db: sync wal: %w", err)
	}
	return nil
}

// Close shuts the engine down: queued flushes drain, the active WAL
// segment is sealed, table handles are released, and the directory lock
// drops. Records still in the active MemTable are not flushed; their
// segment replays on the next Open. Close is idempotent.
func (db *DB) Close() error {
	db.writeMu.Lock()
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		db.writeMu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()
	db.writeMu.Unlock()

	// Frozen MemTables reach disk before shutdown completes.
	db.worker.stop()

	var firstErr error
	// Sealing fsyncs whatever batched mode still buffers.
	if err := db.wal.Close(); err != nil {
		firstErr = fmt.Errorf("db: seal wal: %w", err)
	}
	db.releaseTables()
	if err := db.lock.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("db: release lock: %w", err)
	}
	db.log.Infof(logging.NSDB+"closed %s", db.dir)
	return firstErr
}

// releaseTables drops the table set's own references.
func (db *DB) releaseTables() {
	db.mu.Lock()
	handles := db.tables
	db.tables = nil
	db.mu.Unlock()
	for _, h := range handles {
		h.release(db.log)
	}
}
