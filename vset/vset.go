package vset

// VSet is the volatile set of spec §2-§4: a container of entries keyed
// by an externally-supplied expiry timestamp, whose internal
// representation is chosen automatically (NONE/SINGLE/VECTOR/RAX of
// buckets) to keep every operation close to O(log n) or better as the
// set grows, without the caller ever seeing the representation change.
//
// VectorMax bounds how large a VECTOR (or a single RAX bucket) may grow
// before the split policy runs (spec §4.1, "VECTOR (len=127)"); it is
// the only tunable the type itself needs; everything else is a pure
// function of the timestamps it is given.
type VSet struct {
	VectorMax int

	top Bucket
	rx  *rax
}

// New returns an empty VSet. vectorMax should normally be
// cmn.VsetConfig.VectorMax (127 in the reference configuration).
func New(vectorMax int) *VSet {
	return &VSet{VectorMax: vectorMax}
}

// Kind reports the VSet's current top-level representation.
func (s *VSet) Kind() Kind {
	if s.rx != nil {
		return kindRax
	}
	return s.top.kind
}

// Len returns the number of entries currently held.
func (s *VSet) Len() int {
	if s.rx == nil {
		return s.top.Len()
	}
	n := 0
	s.rx.forEachAscending(func(_ int64, b *Bucket) bool {
		n += b.Len()
		return true
	})
	return n
}

// Add inserts e, promoting the internal representation per spec §4.1 if
// necessary.
func (s *VSet) Add(e Entry, expiry ExpiryFunc) {
	if s.rx == nil {
		s.addTopLevel(e, expiry)
		return
	}
	s.addRouted(e, expiry)
}

func (s *VSet) addTopLevel(e Entry, expiry ExpiryFunc) {
	if !s.top.isFullVector(s.VectorMax) {
		s.top.addPlain(e, expiry, s.VectorMax)
		return
	}

	plan := planSplit(s.top.vec, false, 0, expiry)
	switch plan.action {
	case actionSplit:
		// A top-level vector may span many GRAN_MAX windows, so its entries
		// are re-routed one by one through the RAX path (each landing in a
		// bucket keyed at most its max_bucket_ts), followed by e.
		old := s.top.vec.entries
		s.rx = newRax()
		s.top = Bucket{}
		for _, x := range old {
			s.addRouted(x, expiry)
		}
		s.addRouted(e, expiry)
	case actionPromoteHashtable:
		// Every existing entry shares one bucket_ts (spec §4.1, "VECTOR
		// (len=127) + add, not splittable"). Whether the whole group
		// promotes to HASHTABLE or becomes a one-bucket RAX depends on
		// whether the new entry shares their (coarser) max_bucket_ts too.
		if expiryCommonMaxBucket(s.top.vec, expiry) == maxBucketTS(expiry(e)) {
			s.top.promoteToHashtable(e)
			return
		}
		key := bucketTS(expiry(s.top.vec.entries[0]))
		s.rx = newRax()
		s.rx.insert(key, &Bucket{kind: kindVector, vec: s.top.vec})
		s.top = Bucket{}
		s.addRouted(e, expiry)
	default: // actionRealign can't occur: hasKey is false at top level.
	}
}

// expiryCommonMaxBucket returns the shared max_bucket_ts of every entry
// in vec; callers only invoke this when planSplit has already confirmed
// every entry shares one bucket_ts, which implies they share one
// (coarser) max_bucket_ts too.
func expiryCommonMaxBucket(vec *vector, expiry ExpiryFunc) int64 {
	return maxBucketTS(expiry(vec.entries[0]))
}

// addRouted inserts e into an already-RAX-represented VSet, finding or
// creating the bucket for e per spec §4.1's "Finding the bucket for
// expiry e in RAX" rule, splitting/promoting/realigning first if the
// target bucket is already full.
func (s *VSet) addRouted(e Entry, expiry ExpiryFunc) {
	exp := expiry(e)
	key, b, idx, ok := s.rx.ceiling(exp)
	if !ok || key > maxBucketTS(exp) {
		nb := &Bucket{}
		nb.addPlain(e, expiry, s.VectorMax)
		s.rx.insert(maxBucketTS(exp), nb)
		return
	}

	if !b.isFullVector(s.VectorMax) {
		b.addPlain(e, expiry, s.VectorMax)
		return
	}

	plan := planSplit(b.vec, true, key, expiry)
	switch plan.action {
	case actionRealign:
		s.rx.rekey(idx, plan.realignKey)
		s.addRouted(e, expiry)
	case actionSplit:
		left, right := b.vec.splitAt(plan.splitIndex)
		s.rx.removeAt(idx)
		s.rx.insert(plan.leftKey, &Bucket{kind: kindVector, vec: left})
		s.rx.insert(plan.rightKey, &Bucket{kind: kindVector, vec: right})
		s.addRouted(e, expiry)
	default: // actionPromoteHashtable
		b.promoteToHashtable(e)
	}
	s.maybeCollapse()
}

// maybeCollapse implements spec §4.1's bottom-of-table RAX -> SINGLE /
// VECTOR collapse: once removals (or, defensively, a promotion path)
// leave exactly one bucket that is itself SINGLE or a non-full VECTOR,
// the rax index is discarded and its sole bucket becomes the top level.
func (s *VSet) maybeCollapse() {
	if s.rx == nil {
		return
	}
	b, ok := s.rx.sole()
	if !ok {
		return
	}
	if b.kind == kindSingle || (b.kind == kindVector && b.vec.Len() < s.VectorMax) {
		s.top = *b
		s.rx = nil
	}
}

// Remove deletes e (located via its current expiry) and reports whether
// it was present.
func (s *VSet) Remove(e Entry, expiry ExpiryFunc) bool {
	if s.rx == nil {
		return s.top.removeEntry(e, expiry)
	}
	exp := expiry(e)
	_, b, idx, ok := s.rx.ceiling(exp)
	if !ok {
		return false
	}
	if !b.removeEntry(e, expiry) {
		return false
	}
	if b.Len() == 0 {
		s.rx.removeAt(idx)
	}
	s.maybeCollapse()
	return true
}

// Update relocates e from oldExpiry to newExpiry, taking the in-place
// fast path of spec §4.2 when both timestamps resolve to the same
// bucket, and falling back to Remove+Add otherwise.
func (s *VSet) Update(e Entry, oldExpiry, newExpiry int64, expiry ExpiryFunc) {
	if s.rx == nil {
		if oldExpiry == newExpiry && s.top.kind == kindVector {
			return // position unchanged; vector already reflects expiry via the caller-owned entry
		}
		s.top.removeEntry(e, func(Entry) int64 { return oldExpiry })
		s.Add(e, expiry)
		return
	}

	_, oldBucket, oldIdx, ok := s.rx.ceiling(oldExpiry)
	if !ok {
		s.Add(e, expiry)
		return
	}
	_, newBucket, _, _ := s.rx.ceiling(newExpiry)
	if newBucket == oldBucket {
		if oldExpiry == newExpiry {
			return
		}
		oldBucket.removeEntry(e, func(Entry) int64 { return oldExpiry })
		oldBucket.addPlain(e, expiry, s.VectorMax)
		return
	}

	oldBucket.removeEntry(e, func(Entry) int64 { return oldExpiry })
	if oldBucket.Len() == 0 {
		s.rx.removeAt(oldIdx)
	}
	s.maybeCollapse()
	s.Add(e, expiry)
}

// EstimatedEarliestExpiry returns an estimate of the smallest expiry
// currently held, or -1 if the set is empty. SINGLE/VECTOR/HASHTABLE
// representations are exact; for RAX it is the smallest bucket key, an
// upper bound on the true minimum (spec §4.2's explicit caveat).
func (s *VSet) EstimatedEarliestExpiry(expiry ExpiryFunc) int64 {
	if s.rx == nil {
		switch s.top.kind {
		case kindNone:
			return -1
		case kindSingle:
			return expiry(s.top.single)
		case kindVector:
			return expiry(s.top.vec.entries[0])
		case kindHashtable:
			min := int64(-1)
			for e := range s.top.ht {
				v := expiry(e)
				if min == -1 || v < min {
					min = v
				}
			}
			return min
		}
		return -1
	}
	key, _, ok := s.rx.first()
	if !ok {
		return -1
	}
	return key
}

// RemoveExpired removes up to max entries whose expiry <= now, invoking f
// for each, and returns the number removed. Per spec §4.2's testable
// property, if the returned count is below max then no entry with
// expiry < now remains.
//
// The reference implementation's traversal skips RAX buckets keyed above
// now outright. slotkv visits every bucket in ascending key order instead
// (see DESIGN.md): a bucket freshly allocated via max_bucket_ts can be
// keyed far above `now` while still holding already-expired entries
// alongside future ones, so skipping on key alone would violate the
// no-stale-entries guarantee; visiting every bucket, while still cheap
// per bucket thanks to VECTOR's sorted order, keeps the guarantee exact.
func (s *VSet) RemoveExpired(now int64, max int, expiry ExpiryFunc, f func(Entry)) int {
	removed := 0
	if s.rx == nil {
		removed = removeExpiredFromBucket(&s.top, now, max, expiry, f)
		return removed
	}

	var drained []int64
	s.rx.forEachAscending(func(key int64, b *Bucket) bool {
		if removed >= max {
			return false
		}
		removed += removeExpiredFromBucket(b, now, max-removed, expiry, f)
		if b.Len() == 0 {
			drained = append(drained, key)
		}
		return removed < max
	})
	for _, key := range drained {
		s.rx.removeKey(key)
	}
	s.maybeCollapse()
	return removed
}

func removeExpiredFromBucket(b *Bucket, now int64, max int, expiry ExpiryFunc, f func(Entry)) int {
	removed := 0
	switch b.kind {
	case kindSingle:
		if expiry(b.single) <= now {
			f(b.single)
			b.kind = kindNone
			b.single = nil
			removed = 1
		}
	case kindVector:
		for b.vec.Len() > 0 && removed < max && expiry(b.vec.entries[0]) <= now {
			f(b.vec.removeAt(0))
			removed++
		}
		switch b.vec.Len() {
		case 0:
			b.kind = kindNone
			b.vec = nil
		case 1:
			b.kind = kindSingle
			b.single = b.vec.entries[0]
			b.vec = nil
		}
	case kindHashtable:
		var dead []Entry
		for e := range b.ht {
			if removed >= max {
				break
			}
			if expiry(e) <= now {
				dead = append(dead, e)
				removed++
			}
		}
		for _, e := range dead {
			delete(b.ht, e)
			f(e)
		}
		if len(b.ht) == 1 {
			for e := range b.ht {
				b.single = e
			}
			b.kind = kindSingle
			b.ht = nil
		} else if len(b.ht) == 0 {
			b.kind = kindNone
			b.ht = nil
		}
	}
	return removed
}

// Iterator calls f for every entry currently in the set, in ascending
// expiry order within each VECTOR but with no ordering guarantee across
// HASHTABLE buckets or between buckets of a RAX whose windows overlap
// (spec §4.2). Mutating the set from within f is not supported; mutate
// after Iterator returns.
func (s *VSet) Iterator(f func(Entry)) {
	if s.rx == nil {
		s.top.forEach(f)
		return
	}
	s.rx.forEachAscending(func(_ int64, b *Bucket) bool {
		b.forEach(f)
		return true
	})
}

// MemUsage estimates bytes retained by the container's own bookkeeping
// structures, excluding the externally-owned entries themselves (spec
// §4.2 mem_usage).
func (s *VSet) MemUsage() int64 {
	if s.rx == nil {
		return s.top.memUsage()
	}
	var total int64
	total += int64(len(s.rx.keys)) * (8 + 8) // key + bucket pointer slot
	s.rx.forEachAscending(func(_ int64, b *Bucket) bool {
		total += b.memUsage()
		return true
	})
	return total
}

// RelocateFunc models the reference implementation's defrag relocation
// hook: given one of the VSet's internal allocations, it may return a
// replacement (simulating a moving allocator) or nil to leave it in
// place. Go has no moving GC or custom allocator to drive this from, so
// slotkv's own incremental pass does the one relocation Go code can
// usefully perform -- shrinking an over-allocated vector to its live
// length -- and offers the result to relocate() in case the caller wants
// to substitute pooled memory instead.
type RelocateFunc func(interface{}) interface{}

// Defrag performs one bounded unit of incremental defragmentation and
// returns the cursor to pass on the next call, or 0 when no further work
// remains (spec §4.2 / §9 "Incremental defrag").
func (s *VSet) Defrag(cursor uint64, relocate RelocateFunc) uint64 {
	if s.rx == nil {
		if s.top.kind == kindVector {
			defragVector(s.top, relocate)
		}
		return 0
	}
	n := uint64(s.rx.Len())
	if n == 0 {
		return 0
	}
	i := int(cursor % n)
	b := s.rx.buckets[i]
	if b.kind == kindVector {
		defragVector(*b, relocate)
	}
	next := cursor + 1
	if next >= n {
		return 0
	}
	return next
}

func defragVector(b Bucket, relocate RelocateFunc) {
	b.vec.shrinkToFit()
	if relocate == nil {
		return
	}
	if moved, ok := relocate(b.vec).(*vector); ok && moved != nil {
		*b.vec = *moved
	}
}
