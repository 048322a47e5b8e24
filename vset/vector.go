package vset

import "sort"

// vector is the dense pointer vector of spec §2 C2: a growable sorted
// array of entry handles. len is implicit in len(entries); alloc is
// cap(entries), standing in for the way the reference implementation tracks an
// explicit byte-sized `alloc` field -- Go's slice header already carries
// both, so this type adds only the domain operations on top of it.
type vector struct {
	entries []Entry
}

func newVector(a, b Entry, expiry ExpiryFunc) *vector {
	v := &vector{entries: make([]Entry, 0, 4)}
	if expiry(a) <= expiry(b) {
		v.entries = append(v.entries, a, b)
	} else {
		v.entries = append(v.entries, b, a)
	}
	return v
}

func (v *vector) Len() int { return len(v.entries) }

// search returns the index of the first entry whose expiry is >= target,
// i.e. the insertion point that keeps the vector sorted (binary-search-by-
// expiry, spec §2 C2).
func (v *vector) search(target int64, expiry ExpiryFunc) int {
	return sort.Search(len(v.entries), func(i int) bool {
		return expiry(v.entries[i]) >= target
	})
}

// insertSorted inserts e at its sorted position and returns that index.
func (v *vector) insertSorted(e Entry, expiry ExpiryFunc) int {
	i := v.search(expiry(e), expiry)
	v.insertAt(i, e)
	return i
}

func (v *vector) insertAt(i int, e Entry) {
	v.entries = append(v.entries, nil)
	copy(v.entries[i+1:], v.entries[i:])
	v.entries[i] = e
}

func (v *vector) push(e Entry) { v.entries = append(v.entries, e) }

func (v *vector) pop() Entry {
	n := len(v.entries)
	if n == 0 {
		return nil
	}
	e := v.entries[n-1]
	v.entries = v.entries[:n-1]
	return e
}

func (v *vector) removeAt(i int) Entry {
	e := v.entries[i]
	copy(v.entries[i:], v.entries[i+1:])
	v.entries = v.entries[:len(v.entries)-1]
	return e
}

// remove finds e by identity (not by expiry -- two entries may share an
// expiry) and removes it. Returns false if not present.
func (v *vector) remove(e Entry, expiry ExpiryFunc) bool {
	target := expiry(e)
	lo := v.search(target, expiry)
	for i := lo; i < len(v.entries) && expiry(v.entries[i]) == target; i++ {
		if v.entries[i] == e {
			v.removeAt(i)
			return true
		}
	}
	return false
}

func (v *vector) sortByExpiry(expiry ExpiryFunc) {
	sort.Slice(v.entries, func(i, j int) bool {
		return expiry(v.entries[i]) < expiry(v.entries[j])
	})
}

// splitAt divides the vector into [0,i) and [i,len), returning two new
// vectors copied out of it; the original is left unchanged (spec §4.1 split
// policy step 3).
func (v *vector) splitAt(i int) (left, right *vector) {
	left = &vector{entries: append([]Entry(nil), v.entries[:i]...)}
	right = &vector{entries: append([]Entry(nil), v.entries[i:]...)}
	return
}

// shrinkToFit reallocates entries to drop unused capacity, matching the
// reference implementation's realloc-down-to-len on promotion/demotion.
func (v *vector) shrinkToFit() {
	if cap(v.entries) == len(v.entries) {
		return
	}
	v.entries = append([]Entry(nil), v.entries...)
}

// memUsage approximates the allocator-reported size of the backing array
// (spec §4.2 mem_usage): capacity in entries times an assumed 8-byte
// pointer-sized slot, mirroring the reference's byte-sized `alloc` field.
func (v *vector) memUsage() int64 { return int64(cap(v.entries)) * 8 }
