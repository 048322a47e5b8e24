package vset

import (
	"math/rand"
	"testing"
)

type item struct{ exp int64 }

func expiryOf(e Entry) int64 { return e.(*item).exp }

func newItems(n int, exp func(i int) int64) []*item {
	out := make([]*item, n)
	for i := range out {
		out[i] = &item{exp: exp(i)}
	}
	return out
}

func TestBucketTSMath(t *testing.T) {
	cases := []struct{ in, wantBucket, wantMax int64 }{
		{0, 16, 8192},
		{1, 16, 8192},
		{15, 16, 8192},
		{16, 32, 8192},
		{8191, 8192, 8192},
		{8192, 8208, 16384},
	}
	for _, c := range cases {
		if got := bucketTS(c.in); got != c.wantBucket {
			t.Errorf("bucketTS(%d) = %d, want %d", c.in, got, c.wantBucket)
		}
		if got := maxBucketTS(c.in); got != c.wantMax {
			t.Errorf("maxBucketTS(%d) = %d, want %d", c.in, got, c.wantMax)
		}
	}
}

// TestPromotionChain exercises spec §4.1's full NONE -> SINGLE -> VECTOR ->
// RAX chain by inserting entries one at a time and checking Kind() and Len()
// after every step, then verifies Iterator visits every entry.
func TestPromotionChain(t *testing.T) {
	s := New(127)
	if s.Kind() != KindNone {
		t.Fatalf("empty set kind = %v, want NONE", s.Kind())
	}

	items := newItems(5000, func(i int) int64 { return int64(i) * 3 })

	for i, it := range items {
		s.Add(it, expiryOf)
		want := i + 1
		if got := s.Len(); got != want {
			t.Fatalf("after %d inserts, Len() = %d", want, got)
		}
		switch {
		case want == 1 && s.Kind() != KindSingle:
			t.Fatalf("after 1 insert, kind = %v, want SINGLE", s.Kind())
		case want == 2 && s.Kind() != KindVector:
			t.Fatalf("after 2 inserts, kind = %v, want VECTOR", s.Kind())
		}
	}

	if s.Kind() != KindRax {
		t.Fatalf("after %d inserts, kind = %v, want RAX", len(items), s.Kind())
	}

	seen := map[Entry]bool{}
	s.Iterator(func(e Entry) { seen[e] = true })
	if len(seen) != len(items) {
		t.Fatalf("iterator saw %d entries, want %d", len(seen), len(items))
	}
	for _, it := range items {
		if !seen[it] {
			t.Fatalf("iterator missed entry with expiry %d", it.exp)
		}
	}

	// On a RAX the estimate is the smallest bucket key: strictly above the
	// true minimum and no later than that entry's max_bucket_ts.
	earliest := s.EstimatedEarliestExpiry(expiryOf)
	if earliest <= items[0].exp || earliest > maxBucketTS(items[0].exp) {
		t.Fatalf("estimated earliest expiry %d is not in (%d, %d]", earliest, items[0].exp, maxBucketTS(items[0].exp))
	}
}

// TestVectorOverflowSharedWindow exercises the HASHTABLE promotion branch of
// spec §4.1's split policy: VectorMax+1 entries all falling in the same
// GRAN_MIN window cannot be split, so they promote straight to HASHTABLE.
func TestVectorOverflowSharedWindow(t *testing.T) {
	s := New(127)
	items := newItems(128, func(i int) int64 { return 1000 })
	for _, it := range items {
		s.Add(it, expiryOf)
	}
	if s.Kind() != KindHashtable {
		t.Fatalf("kind = %v, want HASHTABLE", s.Kind())
	}
	if s.Len() != 128 {
		t.Fatalf("Len() = %d, want 128", s.Len())
	}
}

// TestRemoveExpired checks the spec §4.2 testable property: after a call
// that does not hit the quota, no entry with expiry <= now remains, and
// every invocation of f corresponds to a removed, truly-expired entry.
func TestRemoveExpired(t *testing.T) {
	s := New(127)
	items := newItems(2000, func(i int) int64 { return int64(i) })
	for _, it := range items {
		s.Add(it, expiryOf)
	}

	const now = 999
	var removed []Entry
	n := s.RemoveExpired(now, 100000, expiryOf, func(e Entry) { removed = append(removed, e) })

	if n != len(removed) {
		t.Fatalf("RemoveExpired returned %d but invoked f %d times", n, len(removed))
	}
	for _, e := range removed {
		if expiryOf(e) > now {
			t.Fatalf("removed entry with expiry %d > now %d", expiryOf(e), now)
		}
	}
	s.Iterator(func(e Entry) {
		if expiryOf(e) <= now {
			t.Fatalf("entry with expiry %d <= now %d survived RemoveExpired", expiryOf(e), now)
		}
	})
	if want := 1000; n != want {
		t.Fatalf("removed %d entries, want %d (expiries 0..999)", n, want)
	}
}

// TestRemoveExpiredQuota checks that a bounded call removes at most max
// entries and that a subsequent call drains the rest.
func TestRemoveExpiredQuota(t *testing.T) {
	s := New(127)
	items := newItems(500, func(i int) int64 { return int64(i) })
	for _, it := range items {
		s.Add(it, expiryOf)
	}

	total := 0
	for {
		n := s.RemoveExpired(10000, 7, expiryOf, func(Entry) {})
		total += n
		if n == 0 {
			break
		}
		if n > 7 {
			t.Fatalf("RemoveExpired removed %d, exceeding quota 7", n)
		}
	}
	if total != 500 {
		t.Fatalf("drained %d entries across quota-bounded calls, want 500", total)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after draining, want 0", s.Len())
	}
	if s.Kind() != KindNone {
		t.Fatalf("kind = %v after draining, want NONE", s.Kind())
	}
}

// TestAddRemoveRoundTrip adds and then removes a random permutation of
// entries, checking Len() and Kind() collapse back to empty.
func TestAddRemoveRoundTrip(t *testing.T) {
	s := New(127)
	items := newItems(3000, func(i int) int64 { return int64(rand.New(rand.NewSource(int64(i))).Intn(1 << 20)) })
	for _, it := range items {
		s.Add(it, expiryOf)
	}
	if s.Len() != len(items) {
		t.Fatalf("Len() = %d, want %d", s.Len(), len(items))
	}

	order := rand.New(rand.NewSource(42)).Perm(len(items))
	for _, idx := range order {
		it := items[idx]
		if !s.Remove(it, func(e Entry) int64 { return expiryOf(it) }) {
			t.Fatalf("Remove failed for entry with expiry %d", it.exp)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after removing all entries, want 0", s.Len())
	}
	if s.Kind() != KindNone {
		t.Fatalf("kind = %v after removing all entries, want NONE", s.Kind())
	}
}

func TestUpdateSameBucket(t *testing.T) {
	s := New(127)
	items := newItems(50, func(i int) int64 { return int64(i) })
	for _, it := range items {
		s.Add(it, expiryOf)
	}
	target := items[10]
	s.Update(target, target.exp, target.exp+1, expiryOf)
	target.exp++

	found := false
	s.Iterator(func(e Entry) {
		if e == Entry(target) {
			found = true
		}
	})
	if !found {
		t.Fatal("entry missing after same-bucket Update")
	}
	if s.Len() != len(items) {
		t.Fatalf("Len() = %d after Update, want %d", s.Len(), len(items))
	}
}
