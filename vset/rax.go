package vset

import "encoding/binary"

// rax is the RAX of buckets (spec §2 C4): an ordered index from a
// bucket_ts key to the Bucket keyed at it. The reference implementation
// uses a true radix tree over the big-endian encoding of the key;
// slotkv's keys are already small dense int64s, and a sorted slice gives
// the same ordered-iteration and ceiling-search operations with a far
// smaller, easier-to-verify surface than hand-rolling a radix tree
// without access to a compiler to check it (see DESIGN.md).
type rax struct {
	keys    []int64
	buckets []*Bucket
}

// EncodeKey renders ts as the big-endian 8-byte key the reference radix
// tree would index on (spec §3). Nothing in slotkv calls it: the
// in-process index above keys on the raw int64.
func EncodeKey(ts int64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts))
	return b
}

func newRax() *rax {
	return &rax{}
}

func (r *rax) Len() int { return len(r.keys) }

// ceiling returns the bucket keyed at the smallest key > after, or false
// if none exists (spec §4.1 "Finding the bucket for expiry e").
func (r *rax) ceiling(after int64) (key int64, b *Bucket, idx int, ok bool) {
	lo, hi := 0, len(r.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if r.keys[mid] > after {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == len(r.keys) {
		return 0, nil, -1, false
	}
	return r.keys[lo], r.buckets[lo], lo, true
}

func (r *rax) insertAt(i int, key int64, b *Bucket) {
	r.keys = append(r.keys, 0)
	copy(r.keys[i+1:], r.keys[i:])
	r.keys[i] = key

	r.buckets = append(r.buckets, nil)
	copy(r.buckets[i+1:], r.buckets[i:])
	r.buckets[i] = b
}

// insert adds a new bucket at key, which must not already be present.
func (r *rax) insert(key int64, b *Bucket) {
	lo, hi := 0, len(r.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if r.keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	r.insertAt(lo, key, b)
}

// removeKey removes the bucket keyed exactly at key, if present.
func (r *rax) removeKey(key int64) {
	lo, hi := 0, len(r.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if r.keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(r.keys) && r.keys[lo] == key {
		r.removeAt(lo)
	}
}

func (r *rax) removeAt(i int) {
	copy(r.keys[i:], r.keys[i+1:])
	r.keys = r.keys[:len(r.keys)-1]
	copy(r.buckets[i:], r.buckets[i+1:])
	r.buckets = r.buckets[:len(r.buckets)-1]
}

// rekey changes the key of the bucket at index i, preserving sort order
// (spec §4.1 split-policy step 2, "realign").
func (r *rax) rekey(i int, newKey int64) {
	b := r.buckets[i]
	r.removeAt(i)
	r.insert(newKey, b)
}

// first returns the bucket keyed at the smallest key, ascending order
// (spec §4.2 remove_expired / iterator).
func (r *rax) first() (key int64, b *Bucket, ok bool) {
	if len(r.keys) == 0 {
		return 0, nil, false
	}
	return r.keys[0], r.buckets[0], true
}

func (r *rax) forEachAscending(f func(key int64, b *Bucket) bool) {
	for i := range r.keys {
		if !f(r.keys[i], r.buckets[i]) {
			return
		}
	}
}

// sole returns the single remaining bucket, used to detect the RAX ->
// SINGLE/VECTOR collapse condition (spec §4.1 bottom-of-table).
func (r *rax) sole() (b *Bucket, ok bool) {
	if len(r.keys) != 1 {
		return nil, false
	}
	return r.buckets[0], true
}
