package compaction

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/aalhour/tidekv/internal/record"
)

type sliceIter struct {
	recs []record.Record
	pos  int
}

func (it *sliceIter) SeekToFirst()      { it.pos = 0 }
func (it *sliceIter) Valid() bool       { return it.pos < len(it.recs) }
func (it *sliceIter) Next()             { it.pos++ }
func (it *sliceIter) Key() []byte       { return it.recs[it.pos].Key }
func (it *sliceIter) Value() []byte     { return it.recs[it.pos].Value }
func (it *sliceIter) Kind() record.Kind { return it.recs[it.pos].Kind }
func (it *sliceIter) Error() error      { return nil }

type erroringIter struct {
	sliceIter
	failAfter int
	err       error
}

func (it *erroringIter) Error() error {
	if it.pos >= it.failAfter {
		return it.err
	}
	return nil
}

func src(gen uint64, pairs ...string) Source {
	if len(pairs)%2 != 0 {
		panic("pairs must alternate key, value")
	}
	var recs []record.Record
	for i := 0; i < len(pairs); i += 2 {
		rec := record.Record{Key: []byte(pairs[i])}
		if pairs[i+1] == "<del>" {
			rec.Kind = record.KindTombstone
		} else {
			rec.Value = []byte(pairs[i+1])
		}
		recs = append(recs, rec)
	}
	return Source{Gen: gen, Iter: &sliceIter{recs: recs}}
}

func drain(t *testing.T, mi *MergingIterator) []record.Record {
	t.Helper()
	var out []record.Record
	for mi.SeekToFirst(); mi.Valid(); mi.Next() {
		out = append(out, record.Record{
			Key:   bytes.Clone(mi.Key()),
			Value: bytes.Clone(mi.Value()),
			Kind:  mi.Kind(),
		})
	}
	if err := mi.Error(); err != nil {
		t.Fatalf("merge error: %v", err)
	}
	return out
}

func assertMerge(t *testing.T, got []record.Record, want ...string) {
	t.Helper()
	if len(want)%2 != 0 {
		panic("want must alternate key, value")
	}
	if len(got) != len(want)/2 {
		t.Fatalf("merged %d records, want %d", len(got), len(want)/2)
	}
	for i := 0; i < len(want); i += 2 {
		rec := got[i/2]
		if string(rec.Key) != want[i] {
			t.Errorf("record %d: key = %q, want %q", i/2, rec.Key, want[i])
		}
		if want[i+1] == "<del>" {
			if rec.Kind != record.KindTombstone {
				t.Errorf("record %d (%q): kind = %v, want tombstone", i/2, rec.Key, rec.Kind)
			}
		} else if string(rec.Value) != want[i+1] {
			t.Errorf("record %d (%q): value = %q, want %q", i/2, rec.Key, rec.Value, want[i+1])
		}
	}
}

func TestMergeDisjoint(t *testing.T) {
	mi := NewMergingIterator([]Source{
		src(1, "a", "1", "c", "3"),
		src(2, "b", "2", "d", "4"),
	}, false)
	assertMerge(t, drain(t, mi), "a", "1", "b", "2", "c", "3", "d", "4")
}

func TestMergeNewestWins(t *testing.T) {
	mi := NewMergingIterator([]Source{
		src(1, "k", "old", "x", "keep"),
		src(3, "k", "new"),
		src(2, "k", "middle"),
	}, false)
	assertMerge(t, drain(t, mi), "k", "new", "x", "keep")
}

func TestMergeTombstonesKept(t *testing.T) {
	mi := NewMergingIterator([]Source{
		src(1, "a", "1", "b", "2"),
		src(2, "b", "<del>"),
	}, false)
	assertMerge(t, drain(t, mi), "a", "1", "b", "<del>")
}

func TestMergeTombstonesDropped(t *testing.T) {
	mi := NewMergingIterator([]Source{
		src(1, "a", "1", "b", "2", "c", "3"),
		src(2, "b", "<del>"),
	}, true)
	assertMerge(t, drain(t, mi), "a", "1", "c", "3")
}

func TestMergeValueResurrectsOverTombstone(t *testing.T) {
	// Newer put beats an older tombstone regardless of policy.
	for _, drop := range []bool{false, true} {
		mi := NewMergingIterator([]Source{
			src(1, "k", "first"),
			src(2, "k", "<del>"),
			src(3, "k", "rewritten"),
		}, drop)
		assertMerge(t, drain(t, mi), "k", "rewritten")
	}
}

func TestMergeAllShadowedByTombstones(t *testing.T) {
	mi := NewMergingIterator([]Source{
		src(1, "a", "1", "b", "2"),
		src(2, "a", "<del>", "b", "<del>"),
	}, true)
	if got := drain(t, mi); len(got) != 0 {
		t.Errorf("merged %d records, want none", len(got))
	}
}

func TestMergeKeyInEverySource(t *testing.T) {
	mi := NewMergingIterator([]Source{
		src(5, "k", "gen5"),
		src(9, "k", "gen9"),
		src(7, "k", "gen7"),
		src(1, "k", "gen1"),
	}, false)
	assertMerge(t, drain(t, mi), "k", "gen9")
}

func TestMergeNoSources(t *testing.T) {
	mi := NewMergingIterator(nil, true)
	if got := drain(t, mi); len(got) != 0 {
		t.Errorf("merged %d records from no sources", len(got))
	}
}

func TestMergeEmptySources(t *testing.T) {
	mi := NewMergingIterator([]Source{
		src(1),
		src(2, "only", "one"),
		src(3),
	}, false)
	assertMerge(t, drain(t, mi), "only", "one")
}

func TestMergeSingleSourcePassthrough(t *testing.T) {
	mi := NewMergingIterator([]Source{
		src(1, "a", "1", "b", "<del>", "c", "3"),
	}, false)
	assertMerge(t, drain(t, mi), "a", "1", "b", "<del>", "c", "3")
}

func TestMergeChildError(t *testing.T) {
	boom := errors.New("child failed")
	bad := &erroringIter{
		sliceIter: sliceIter{recs: []record.Record{
			{Key: []byte("a"), Value: []byte("1")},
			{Key: []byte("b"), Value: []byte("2")},
			{Key: []byte("c"), Value: []byte("3")},
		}},
		failAfter: 2,
		err:       boom,
	}
	mi := NewMergingIterator([]Source{
		{Gen: 1, Iter: bad},
		src(2, "aa", "x", "bb", "y"),
	}, false)

	var n int
	for mi.SeekToFirst(); mi.Valid(); mi.Next() {
		n++
		if n > 10 {
			t.Fatal("iterator did not terminate after child error")
		}
	}
	if !errors.Is(mi.Error(), boom) {
		t.Errorf("Error() = %v, want the child's error", mi.Error())
	}
}

func TestMergeMatchesReferenceModel(t *testing.T) {
	// Random sources checked against a map-based model: per key the
	// highest generation wins, and dropped tombstones erase the key.
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		numSources := 1 + rng.Intn(5)
		model := map[string]record.Record{}
		modelGen := map[string]uint64{}

		sources := make([]Source, 0, numSources)
		for g := 1; g <= numSources; g++ {
			gen := uint64(g)
			var recs []record.Record
			for k := 0; k < 30; k++ {
				if rng.Intn(3) == 0 {
					continue
				}
				key := fmt.Sprintf("key-%02d", k)
				rec := record.Record{Key: []byte(key)}
				if rng.Intn(4) == 0 {
					rec.Kind = record.KindTombstone
				} else {
					rec.Value = []byte(fmt.Sprintf("g%d-k%d", gen, k))
				}
				recs = append(recs, rec)
				if gen > modelGen[key] {
					model[key] = rec
					modelGen[key] = gen
				}
			}
			sources = append(sources, Source{Gen: gen, Iter: &sliceIter{recs: recs}})
		}

		var wantKeys []string
		for key, rec := range model {
			if rec.Kind == record.KindTombstone {
				continue
			}
			wantKeys = append(wantKeys, key)
		}
		sort.Strings(wantKeys)

		mi := NewMergingIterator(sources, true)
		got := drain(t, mi)
		if len(got) != len(wantKeys) {
			t.Fatalf("round %d: merged %d records, want %d", round, len(got), len(wantKeys))
		}
		for i, key := range wantKeys {
			if string(got[i].Key) != key {
				t.Fatalf("round %d: record %d key = %q, want %q", round, i, got[i].Key, key)
			}
			if !bytes.Equal(got[i].Value, model[key].Value) {
				t.Fatalf("round %d: key %q value = %q, want %q", round, got[i].Key, got[i].Value, model[key].Value)
			}
			if got[i].Kind != record.KindValue {
				t.Fatalf("round %d: key %q kind = %v", round, got[i].Key, got[i].Kind)
			}
		}
	}
}

func BenchmarkMerge(b *testing.B) {
	mkRecs := func(start, step, n int) []record.Record {
		recs := make([]record.Record, n)
		for i := range recs {
			recs[i] = record.Record{
				Key:   []byte(fmt.Sprintf("key-%08d", start+i*step)),
				Value: make([]byte, 64),
			}
		}
		return recs
	}
	for b.Loop() {
		mi := NewMergingIterator([]Source{
			{Gen: 1, Iter: &sliceIter{recs: mkRecs(0, 4, 1000)}},
			{Gen: 2, Iter: &sliceIter{recs: mkRecs(1, 4, 1000)}},
			{Gen: 3, Iter: &sliceIter{recs: mkRecs(2, 4, 1000)}},
			{Gen: 4, Iter: &sliceIter{recs: mkRecs(3, 4, 1000)}},
		}, true)
		n := 0
		for mi.SeekToFirst(); mi.Valid(); mi.Next() {
			n++
		}
		if n != 4000 {
			b.Fatalf("merged %d records", n)
		}
	}
}
