// Stress test for tidekv.
//
// The tool hammers an engine with random puts, gets, and deletes from many
// goroutines while an in-process oracle tracks the expected value of every
// key. Per-key locking keeps the engine operation and the oracle update
// atomic, so any divergence is a real engine bug. Periodic flushes,
// compactions, and full close/reopen cycles exercise the on-disk paths.
//
// Usage: go run ./cmd/stresstest [flags]
package main

import (
	"bytes"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aalhour/tidekv"
)

var (
	duration     = flag.Duration("duration", 60*time.Second, "Test duration")
	numKeys      = flag.Int64("keys", 10000, "Number of keys in the key space")
	valueSize    = flag.Int("value-size", 100, "Size of each value in bytes")
	numThreads   = flag.Int("threads", 16, "Number of concurrent worker goroutines")
	reopenPeriod = flag.Duration("reopen", 10*time.Second, "Period between close/reopen cycles (0 to disable)")
	flushPeriod  = flag.Duration("flush", 5*time.Second, "Period between manual flushes (0 to disable)")
	threshold    = flag.Int64("memtable-threshold", 1<<20, "MemTable flush threshold in bytes")
	dbPath       = flag.String("db", "", "Engine path (default: temp directory)")
	keepDB       = flag.Bool("keep", false, "Keep the directory after the test")
	verbose      = flag.Bool("v", false, "Verbose output")
	seed         = flag.Int64("seed", 0, "Random seed (0 for time-based)")
	syncWrites   = flag.Bool("sync", false, "Fsync the WAL on every write")

	// Operation weights
	putWeight     = flag.Int("put", 45, "Put operation weight")
	getWeight     = flag.Int("get", 40, "Get operation weight")
	deleteWeight  = flag.Int("delete", 13, "Delete operation weight")
	compactWeight = flag.Int("compact", 2, "Compaction trigger weight")

	log2KeysPerLock = flag.Uint("log2-keys-per-lock", 2, "Log2 of keys sharing one oracle lock")
)

// stats tracks operation counts across workers.
type stats struct {
	puts        atomic.Uint64
	gets        atomic.Uint64
	deletes     atomic.Uint64
	compactions atomic.Uint64
	flushes     atomic.Uint64
	reopens     atomic.Uint64
	errors      atomic.Uint64
	verifyFail  atomic.Uint64
}

// oracle is the expected state: the value every key must read back as,
// nil meaning absent. Each lock covers a contiguous run of keys; holding
// it makes the engine operation and the oracle update one atomic step.
type oracle struct {
	shift  uint
	locks  []sync.Mutex
	values [][]byte
}

func newOracle(n int64, log2PerLock uint) *oracle {
	perLock := int64(1) << log2PerLock
	return &oracle{
		shift:  log2PerLock,
		locks:  make([]sync.Mutex, (n+perLock-1)/perLock),
		values: make([][]byte, n),
	}
}

func (o *oracle) lock(k int64) *sync.Mutex {
	return &o.locks[k>>o.shift]
}

func keyBytes(k int64) []byte {
	return fmt.Appendf(nil, "key%012d", k)
}

// makeValue derives a value from the key and a write counter so stale
// reads are distinguishable from wrong reads.
func makeValue(k int64, gen uint64) []byte {
	v := fmt.Appendf(nil, "v-%012d-%016x-", k, gen)
	for len(v) < *valueSize {
		v = append(v, byte('a'+len(v)%26))
	}
	return v[:*valueSize]
}

func main() {
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	if *valueSize < 32 {
		fatal("value-size must be at least 32")
	}

	printBanner()

	dir := *dbPath
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "tidekv-stress-*")
		if err != nil {
			fatal("create temp dir: %v", err)
		}
	}
	fmt.Printf("Engine path: %s\n\n", dir)

	st := &stats{}
	exp := newOracle(*numKeys, *log2KeysPerLock)
	if err := run(dir, exp, st); err != nil {
		fmt.Printf("\nSTRESS TEST FAILED: %v\n", err)
		os.Exit(1)
	}

	printStats(st)
	if st.errors.Load() > 0 || st.verifyFail.Load() > 0 {
		fmt.Println("STRESS TEST FAILED")
		os.Exit(1)
	}
	fmt.Println("STRESS TEST PASSED")

	if *keepDB {
		fmt.Printf("\nEngine kept at: %s\n", dir)
	} else if *dbPath == "" {
		os.RemoveAll(dir)
	}
}

func openEngine(dir string) (*tidekv.DB, error) {
	opts := tidekv.DefaultOptions()
	opts.MemTableThreshold = *threshold
	if *syncWrites {
		opts.SyncMode = tidekv.SyncAlways
	} else {
		opts.SyncMode = tidekv.SyncBatched
	}
	return tidekv.Open(dir, opts)
}

// run drives rounds of concurrent load separated by close/reopen cycles,
// then verifies every key against the oracle.
func run(dir string, exp *oracle, st *stats) error {
	deadline := time.Now().Add(*duration)
	round := 0
	for time.Now().Before(deadline) {
		db, err := openEngine(dir)
		if err != nil {
			return fmt.Errorf("open (round %d): %w", round, err)
		}

		roundEnd := deadline
		if *reopenPeriod > 0 {
			if t := time.Now().Add(*reopenPeriod); t.Before(roundEnd) {
				roundEnd = t
			}
		}
		runRound(db, exp, st, roundEnd, round)

		if err := verifySample(db, exp, st, 1000); err != nil {
			db.Close()
			return fmt.Errorf("round %d: %w", round, err)
		}
		if err := db.Close(); err != nil {
			return fmt.Errorf("close (round %d): %w", round, err)
		}
		st.reopens.Add(1)
		if *verbose {
			fmt.Printf("round %d complete, reopening\n", round)
		}
		round++
		if *reopenPeriod <= 0 {
			break
		}
	}

	// Final pass over the whole key space on a fresh open.
	db, err := openEngine(dir)
	if err != nil {
		return fmt.Errorf("final open: %w", err)
	}
	defer db.Close()
	fmt.Println("\nRunning final verification...")
	return verifyAll(db, exp, st)
}

func runRound(db *tidekv.DB, exp *oracle, st *stats, end time.Time, round int) {
	var wg, flusher sync.WaitGroup
	stop := make(chan struct{})

	if *flushPeriod > 0 {
		flusher.Add(1)
		go func() {
			defer flusher.Done()
			t := time.NewTicker(*flushPeriod)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					if err := db.Flush(); err != nil {
						fmt.Printf("flush error: %v\n", err)
						st.errors.Add(1)
					} else {
						st.flushes.Add(1)
					}
				}
			}
		}()
	}

	totalWeight := *putWeight + *getWeight + *deleteWeight + *compactWeight
	for w := range *numThreads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + int64(round)*1000 + int64(w)))
			var gen uint64
			for time.Now().Before(end) {
				k := rng.Int63n(*numKeys)
				switch pick := rng.Intn(totalWeight); {
				case pick < *putWeight:
					gen++
					value := makeValue(k, uint64(w)<<32|gen)
					mu := exp.lock(k)
					mu.Lock()
					err := db.Put(keyBytes(k), value)
					if err == nil {
						exp.values[k] = value
					}
					mu.Unlock()
					if err != nil {
						fmt.Printf("put error: %v\n", err)
						st.errors.Add(1)
						return
					}
					st.puts.Add(1)
				case pick < *putWeight+*getWeight:
					mu := exp.lock(k)
					mu.Lock()
					got, err := db.Get(keyBytes(k))
					want := exp.values[k]
					mu.Unlock()
					if err != nil {
						fmt.Printf("get error: %v\n", err)
						st.errors.Add(1)
						return
					}
					if !sameValue(got, want) {
						fmt.Printf("MISMATCH key %d: got %q, want %q\n", k, trim(got), trim(want))
						st.verifyFail.Add(1)
					}
					st.gets.Add(1)
				case pick < *putWeight+*getWeight+*deleteWeight:
					mu := exp.lock(k)
					mu.Lock()
					err := db.Delete(keyBytes(k))
					if err == nil {
						exp.values[k] = nil
					}
					mu.Unlock()
					if err != nil {
						fmt.Printf("delete error: %v\n", err)
						st.errors.Add(1)
						return
					}
					st.deletes.Add(1)
				default:
					if err := db.Compact(); err != nil {
						fmt.Printf("compact error: %v\n", err)
						st.errors.Add(1)
						return
					}
					st.compactions.Add(1)
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	flusher.Wait()
}

func sameValue(got, want []byte) bool {
	if want == nil {
		return got == nil
	}
	return bytes.Equal(got, want)
}

func trim(b []byte) []byte {
	if len(b) > 40 {
		return b[:40]
	}
	return b
}

// verifySample spot-checks n random keys under their oracle locks.
func verifySample(db *tidekv.DB, exp *oracle, st *stats, n int) error {
	rng := rand.New(rand.NewSource(*seed ^ 0x5eed))
	for range n {
		k := rng.Int63n(*numKeys)
		mu := exp.lock(k)
		mu.Lock()
		got, err := db.Get(keyBytes(k))
		want := exp.values[k]
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("spot verify key %d: %w", k, err)
		}
		if !sameValue(got, want) {
			st.verifyFail.Add(1)
			return fmt.Errorf("spot verify key %d: got %q, want %q", k, trim(got), trim(want))
		}
	}
	return nil
}

// verifyAll checks every key in the space against the oracle.
func verifyAll(db *tidekv.DB, exp *oracle, st *stats) error {
	var bad int64
	for k := range *numKeys {
		got, err := db.Get(keyBytes(k))
		if err != nil {
			return fmt.Errorf("verify key %d: %w", k, err)
		}
		if !sameValue(got, exp.values[k]) {
			fmt.Printf("MISMATCH key %d: got %q, want %q\n", k, trim(got), trim(exp.values[k]))
			st.verifyFail.Add(1)
			bad++
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d keys diverged from the oracle", bad)
	}
	fmt.Printf("Verified %d keys\n", *numKeys)
	return nil
}

func printBanner() {
	line := func(content string) {
		fmt.Printf("| %-61s |\n", content)
	}
	fmt.Println("+---------------------------------------------------------------+")
	line("tidekv stress test")
	fmt.Println("+---------------------------------------------------------------+")
	line(fmt.Sprintf("Duration: %-10s Keys: %-10d Threads: %-6d", *duration, *numKeys, *numThreads))
	line(fmt.Sprintf("Seed: %-20d Value size: %-6d bytes", *seed, *valueSize))
	line(fmt.Sprintf("Weights: put=%d get=%d delete=%d compact=%d",
		*putWeight, *getWeight, *deleteWeight, *compactWeight))
	line(fmt.Sprintf("Reopen: %-10s Flush: %-10s Sync: %-5v", *reopenPeriod, *flushPeriod, *syncWrites))
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println()
}

func printStats(st *stats) {
	fmt.Println()
	fmt.Printf("Puts:         %d\n", st.puts.Load())
	fmt.Printf("Gets:         %d\n", st.gets.Load())
	fmt.Printf("Deletes:      %d\n", st.deletes.Load())
	fmt.Printf("Flushes:      %d\n", st.flushes.Load())
	fmt.Printf("Compactions:  %d\n", st.compactions.Load())
	fmt.Printf("Reopens:      %d\n", st.reopens.Load())
	fmt.Printf("Errors:       %d\n", st.errors.Load())
	fmt.Printf("Verify fails: %d\n", st.verifyFail.Load())
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
