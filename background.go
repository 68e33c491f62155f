package tidekv

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/aalhour/tidekv/internal/compaction"
	"github.com/aalhour/tidekv/internal/logging"
	"github.com/aalhour/tidekv/internal/memtable"
	"github.com/aalhour/tidekv/internal/table"
)

// flushQueueDepth bounds the freeze backlog. A writer that outruns the
// flusher blocks on the full queue instead of accumulating frozen
// MemTables without limit.
const flushQueueDepth = 8

// flushJob carries one frozen MemTable and the WAL segments that back
// it. done is closed when the job finishes, with err holding the
// outcome.
type flushJob struct {
	mem      *memtable.MemTable
	walPaths []string
	err      error
	done     chan struct{}
}

// worker owns all background work. A single goroutine processes flush
// jobs FIFO and compactions one at a time, so the table set never
// changes underneath a running compaction.
type worker struct {
	db         *DB
	flushCh    chan *flushJob
	compactCh  chan compactRequest
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// compactRequest is a manual compaction waiting for its result.
type compactRequest struct {
	reply chan error
}

func newWorker(db *DB) *worker {
	return &worker{
		db:         db,
		flushCh:    make(chan *flushJob, flushQueueDepth),
		compactCh:  make(chan compactRequest, 1),
		shutdownCh: make(chan struct{}),
	}
}

func (w *worker) start() {
	w.wg.Add(1)
	go w.loop()
}

// stop shuts the worker down after draining queued flush jobs, so every
// frozen MemTable reaches disk before Close returns.
func (w *worker) stop() {
	close(w.shutdownCh)
	w.wg.Wait()
}

// enqueueFlush blocks while the queue is full, applying backpressure to
// the writer that triggered the rotation.
func (w *worker) enqueueFlush(job *flushJob) {
	w.flushCh <- job
}

// requestCompaction runs a compaction on the worker goroutine and waits
// for its result.
func (w *worker) requestCompaction() error {
	req := compactRequest{reply: make(chan error, 1)}
	select {
	case w.compactCh <- req:
	case <-w.shutdownCh:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-w.shutdownCh:
		return ErrClosed
	}
}

func (w *worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.shutdownCh:
			w.drain()
			return
		case job := <-w.flushCh:
			w.db.runFlush(job)
			w.maybeCompact()
		case req := <-w.compactCh:
			req.reply <- w.db.runCompaction()
		}
	}
}

// drain finishes queued flush jobs and fails queued compaction requests
// during shutdown. Automatic compaction does not run here; shutdown
// should not start avoidable work.
func (w *worker) drain() {
	for {
		select {
		case job := <-w.flushCh:
			w.db.runFlush(job)
		case req := <-w.compactCh:
			req.reply <- ErrClosed
		default:
			return
		}
	}
}

// maybeCompact applies the automatic trigger after a flush publishes a
// table.
func (w *worker) maybeCompact() {
	if w.db.opts.DisableAutoCompaction {
		return
	}
	w.db.mu.RLock()
	n := len(w.db.tables)
	w.db.mu.RUnlock()
	if n < w.db.opts.CompactionThreshold {
		return
	}
	if err := w.db.runCompaction(); err != nil {
		w.db.log.Errorf(logging.NSCompact+"automatic compaction failed: %v", err)
	}
}

// runFlush writes one frozen MemTable out as a sorted table. A failure
// parks in the DB and rejects subsequent writes; the frozen MemTable
// stays pending and its WAL segments stay on disk, so nothing is lost
// and reads keep serving.
func (db *DB) runFlush(job *flushJob) {
	err := db.flushOne(job)
	if err != nil {
		db.log.Errorf(logging.NSFlush+"flush failed: %v", err)
		db.park(err)
	}
	job.err = err
	close(job.done)
}

func (db *DB) flushOne(job *flushJob) error {
	start := time.Now()
	gen := db.allocGen()
	path := tableFilePath(db.dir, gen)
	db.log.Debugf(logging.NSFlush+"flushing %d records (%d bytes) to generation %d",
		job.mem.Len(), job.mem.ApproximateSize(), gen)

	var handle *tableHandle
	info, err := table.WriteFile(path, job.mem.NewIterator(), db.opts.tableOptions())
	switch {
	case errors.Is(err, table.ErrNoRecords):
		// Queued MemTables are never empty, but an empty one would
		// simply have nothing to publish.
	case err != nil:
		return err
	default:
		handle, err = openTableHandle(path, gen)
		if err != nil {
			_ = os.Remove(path)
			return err
		}
	}

	// Publish the table and retire the MemTable in one critical
	// section; a reader must never miss both.
	db.mu.Lock()
	if handle != nil {
		db.tables = append(db.tables, handle)
	}
	for i, m := range db.pending {
		if m == job.mem {
			db.pending = append(db.pending[:i], db.pending[i+1:]...)
			break
		}
	}
	db.mu.Unlock()

	// The records are durable in the table now; the segments that
	// carried them are expendable.
	for _, p := range job.walPaths {
		if err := os.Remove(p); err != nil {
			db.log.Warnf(logging.NSFlush+"remove flushed segment %s: %v", p, err)
		}
	}

	db.counters.flushes.Add(1)
	if handle != nil {
		db.log.Infof(logging.NSFlush+"wrote table %020d%s: %d records, %d bytes in %s",
			gen, tableSuffix, info.NumRecords, info.FileSize, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// park records the first background failure. Later writes return it;
// reads keep serving.
func (db *DB) park(err error) {
	db.mu.Lock()
	if db.bgErr == nil {
		db.bgErr = err
	}
	db.mu.Unlock()
}

// runCompaction merges the live tables into at most one output under a
// fresh generation. Tombstones and superseded versions are dropped, so
// the output can be empty. Input files retire through their reference
// counts, letting in-flight reads finish against the old files. Runs on
// the worker goroutine, so the table set cannot change underneath it.
func (db *DB) runCompaction() error {
	db.mu.RLock()
	inputs := make([]*tableHandle, len(db.tables))
	copy(inputs, db.tables)
	for _, h := range inputs {
		h.acquire()
	}
	db.mu.RUnlock()

	if len(inputs) == 0 {
		return nil
	}
	release := func() {
		for _, h := range inputs {
			h.release(db.log)
		}
	}

	start := time.Now()
	gen := db.allocGen()
	db.log.Debugf(logging.NSCompact+"merging %d tables into generation %d", len(inputs), gen)

	sources := make([]compaction.Source, len(inputs))
	for i, h := range inputs {
		sources[i] = compaction.Source{Gen: h.gen, Iter: h.reader.NewIterator()}
	}
	merged := compaction.NewMergingIterator(sources, true)

	path := tableFilePath(db.dir, gen)
	var output *tableHandle
	info, err := table.WriteFile(path, merged, db.opts.tableOptions())
	switch {
	case errors.Is(err, table.ErrNoRecords):
		// Every record was a tombstone or shadowed by one.
	case err != nil:
		release()
		return err
	default:
		output, err = openTableHandle(path, gen)
		if err != nil {
			_ = os.Remove(path)
			release()
			return err
		}
	}

	db.mu.Lock()
	if output != nil {
		db.tables = []*tableHandle{output}
	} else {
		db.tables = nil
	}
	db.mu.Unlock()

	// Each input drops two references: the snapshot above and the one
	// the table set held. The file unlinks when the last reader lets go.
	for _, h := range inputs {
		h.obsolete.Store(true)
		h.release(db.log)
		h.release(db.log)
	}

	db.counters.compactions.Add(1)
	if output != nil {
		db.log.Infof(logging.NSCompact+"merged %d tables into %020d%s: %d records, %d bytes in %s",
			len(inputs), gen, tableSuffix, info.NumRecords, info.FileSize, time.Since(start).Round(time.Millisecond))
	} else {
		db.log.Infof(logging.NSCompact+"merged %d tables away entirely in %s",
			len(inputs), time.Since(start).Round(time.Millisecond))
	}
	return nil
}
