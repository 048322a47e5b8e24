package vset

// Bucket is the spec §2 C3 "Time bucket": a tagged leaf that is either
// empty-impossible (a Rax never stores an empty bucket -- it is deleted
// instead), SINGLE, VECTOR, or HASHTABLE. The very same shape doubles as
// the VSet's own top-level representation before it is ever promoted to
// RAX (spec §4.1's table starts every transition from "NONE").
type Bucket struct {
	kind   kind
	single Entry
	vec    *vector
	ht     map[Entry]struct{}
}

func (b *Bucket) Len() int {
	switch b.kind {
	case kindNone:
		return 0
	case kindSingle:
		return 1
	case kindVector:
		return b.vec.Len()
	case kindHashtable:
		return len(b.ht)
	default:
		return 0
	}
}

// addPlain inserts e without considering promotion to RAX/HASHTABLE; it
// reports fullVector when the bucket is now a VECTOR holding exactly
// vectorMax entries and the *next* add into it must consult planSplit
// instead of calling addPlain again (spec §4.1 table, "VECTOR (len=127)").
func (b *Bucket) addPlain(e Entry, expiry ExpiryFunc, vectorMax int) (fullVector bool) {
	switch b.kind {
	case kindNone:
		b.kind = kindSingle
		b.single = e
	case kindSingle:
		b.vec = newVector(b.single, e, expiry)
		b.kind = kindVector
		b.single = nil
	case kindVector:
		b.vec.insertSorted(e, expiry)
		fullVector = b.vec.Len() >= vectorMax
	case kindHashtable:
		b.ht[e] = struct{}{}
	}
	return
}

// isFullVector reports whether this bucket is a VECTOR exactly at
// vectorMax capacity, the trigger condition for planSplit (spec §4.1).
func (b *Bucket) isFullVector(vectorMax int) bool {
	return b.kind == kindVector && b.vec.Len() >= vectorMax
}

func (b *Bucket) removeEntry(e Entry, expiry ExpiryFunc) bool {
	switch b.kind {
	case kindSingle:
		if b.single != e {
			return false
		}
		b.kind = kindNone
		b.single = nil
		return true
	case kindVector:
		if !b.vec.remove(e, expiry) {
			return false
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
		return true
	case kindHashtable:
		if _, ok := b.ht[e]; !ok {
			return false
		}
		delete(b.ht, e)
		if len(b.ht) == 1 {
			for k := range b.ht {
				b.single = k
			}
			b.kind = kindSingle
			b.ht = nil
		}
		return true
	default:
		return false
	}
}

// promoteToHashtable converts a full VECTOR (plus one more entry that
// didn't fit) into a HASHTABLE of vectorMax+1 entries (spec §4.1:
// "HASHTABLE of 128").
func (b *Bucket) promoteToHashtable(extra Entry) {
	ht := make(map[Entry]struct{}, b.vec.Len()+1)
	for _, e := range b.vec.entries {
		ht[e] = struct{}{}
	}
	ht[extra] = struct{}{}
	b.kind = kindHashtable
	b.vec = nil
	b.ht = ht
}

func (b *Bucket) memUsage() int64 {
	switch b.kind {
	case kindVector:
		return b.vec.memUsage()
	case kindHashtable:
		return int64(len(b.ht)) * 8
	case kindSingle:
		return 8
	default:
		return 0
	}
}

// forEach yields every entry in the bucket exactly once. Order is
// ascending-by-expiry for VECTOR, unspecified for HASHTABLE (spec §4.2
// iterator()).
func (b *Bucket) forEach(f func(Entry)) {
	switch b.kind {
	case kindSingle:
		f(b.single)
	case kindVector:
		for _, e := range b.vec.entries {
			f(e)
		}
	case kindHashtable:
		for e := range b.ht {
			f(e)
		}
	}
}

//////////////////////////////////
// bucket-timestamp arithmetic  //
//////////////////////////////////

const (
	granMinMS int64 = 16
	granMaxMS int64 = 8192
)

// bucketTS is the smallest GRAN_MIN-aligned window boundary strictly
// greater than expiry (spec §4.1).
func bucketTS(expiry int64) int64 {
	return (expiry &^ (granMinMS - 1)) + granMinMS
}

// maxBucketTS is the largest GRAN_MAX-aligned window end tolerated for
// expiry -- the key used when allocating a brand-new, not-yet-split RAX
// bucket (spec §4.1).
func maxBucketTS(expiry int64) int64 {
	return (expiry &^ (granMaxMS - 1)) + granMaxMS
}

////////////////////
// split planning //
////////////////////

type splitAction uint8

const (
	actionPromoteHashtable splitAction = iota
	actionSplit
	actionRealign
)

type splitPlan struct {
	action     splitAction
	splitIndex int   // for actionSplit: entries[:splitIndex] go left
	leftKey    int64 // for actionSplit: key for the left bucket
	rightKey   int64 // for actionSplit: key for the right bucket (the bucket's existing key when it has one)
	realignKey int64 // for actionRealign: new key for the whole bucket
}

// planSplit implements spec §4.1's split policy for a full (already
// sorted) vector. hasKey/currentKey describe the bucket's existing RAX key,
// if any -- a bare top-level vector being promoted for the first time has
// no key yet (hasKey=false), so step 2 (realign) never applies to it.
func planSplit(vec *vector, hasKey bool, currentKey int64, expiry ExpiryFunc) splitPlan {
	entries := vec.entries
	minExp := expiry(entries[0])
	maxExp := expiry(entries[len(entries)-1])

	if hasKey && bucketTS(maxExp) < currentKey {
		return splitPlan{action: actionRealign, realignKey: bucketTS(maxExp)}
	}

	if bucketTS(minExp) != bucketTS(maxExp) {
		i := findSplitIndex(entries, expiry)
		leftKey := bucketTS(expiry(entries[i-1]))
		rightKey := currentKey
		if !hasKey {
			rightKey = bucketTS(expiry(entries[len(entries)-1]))
		}
		return splitPlan{action: actionSplit, splitIndex: i, leftKey: leftKey, rightKey: rightKey}
	}

	return splitPlan{action: actionPromoteHashtable}
}

// findSplitIndex finds the smallest index i>0 closest to the median such
// that bucketTS(entries[i-1]) < bucketTS(entries[i]) (spec §4.1 step 3).
func findSplitIndex(entries []Entry, expiry ExpiryFunc) int {
	n := len(entries)
	median := n / 2
	// search outward from the median for the nearest transition point.
	for d := 0; d < n; d++ {
		for _, i := range [2]int{median + d, median - d} {
			if i <= 0 || i >= n {
				continue
			}
			if bucketTS(expiry(entries[i-1])) < bucketTS(expiry(entries[i])) {
				return i
			}
		}
	}
	// unreachable when bucketTS(min) != bucketTS(max), which the caller
	// already verified.
	return 1
}
