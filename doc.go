/*
Package tidekv provides an embeddable, durable, ordered key/value engine
built on a log-structured merge tree.

Writes land in a write-ahead log and an in-memory table; when the
MemTable crosses a size threshold it is frozen and written out as an
immutable sorted table with a Bloom filter and a sparse index. A
background worker merges the accumulated tables back into one, dropping
deleted and superseded records. Every byte read from disk is verified
against a checksum before it is trusted.

# Usage

	db, err := tidekv.Open("./data", tidekv.DefaultOptions())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Put([]byte("user:123"), []byte("Albiere")); err != nil {
		log.Fatal(err)
	}
	value, err := db.Get([]byte("user:123"))

A missing key is not an error: Get returns (nil, nil). For runnable
examples, see the repository's examples directory.

# Concurrency

A DB instance is safe for concurrent use by multiple goroutines. Writes
are serialized internally; reads proceed in parallel with writes,
flushes, and compactions.

# Durability

Options.SyncMode selects when the WAL is fsynced: SyncAlways hardens
every write before it returns, SyncBatched defers to segment rotation,
Sync, and Close. After a crash, Open replays intact WAL records and
discards a torn tail, so an fsynced write is never lost and a torn write
never resurrects.
*/
package tidekv
