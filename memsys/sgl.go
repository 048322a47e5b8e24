// Package memsys provides a scatter-gather byte buffer (SGL) on top of a
// slab pool of reusable fixed-size buffers, following the teacher's memsys
// design: a growable io.Reader/io.Writer backed by discontiguous slabs
// instead of one contiguous allocation. slotkv uses one SGL per migration
// job's send side to accumulate snapshot/incremental-stream bytes without
// forcing a single large allocation per job (spec §5: the snapshot producer
// writes a potentially large byte stream into the bound session).
package memsys

import (
	"io"
	"sync"
)

const defaultSlabSize = 32 * 1024

// slab pools are sized per power-of-two slab; slotkv only ever asks for the
// default size, so one pool suffices (unlike the teacher's multi-size
// slab allocator, which this intentionally simplifies).
var slabPool = sync.Pool{
	New: func() interface{} { return make([]byte, defaultSlabSize) },
}

// SGL is an growable, poolable byte buffer made of fixed-size slabs.
// Not safe for concurrent use -- each transport.Session owns one SGL and
// guards it with the session mutex shared by Send and its writeLoop
// goroutine.
type SGL struct {
	slabs [][]byte
	size  int64 // total bytes written
	roff  int64 // read cursor, for io.Reader
}

func NewSGL() *SGL { return &SGL{} }

func (z *SGL) Size() int64 { return z.size }

// Write appends p across as many slabs as needed, allocating new slabs
// from the shared pool on demand.
func (z *SGL) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		slabIdx := int(z.size / defaultSlabSize)
		for slabIdx >= len(z.slabs) {
			z.slabs = append(z.slabs, slabPool.Get().([]byte))
		}
		off := int(z.size % defaultSlabSize)
		n := copy(z.slabs[slabIdx][off:], p)
		z.size += int64(n)
		written += n
		p = p[n:]
	}
	return written, nil
}

// Read drains from the current read cursor, matching the teacher's SGL
// io.Reader semantics (a forward-only cursor independent of Write's
// append cursor, so producer and consumer can interleave).
func (z *SGL) Read(p []byte) (int, error) {
	if z.roff >= z.size {
		return 0, io.EOF
	}
	read := 0
	for len(p) > 0 && z.roff < z.size {
		slabIdx := int(z.roff / defaultSlabSize)
		off := int(z.roff % defaultSlabSize)
		avail := z.size - z.roff
		n := copy(p, z.slabs[slabIdx][off:])
		if int64(n) > avail {
			n = int(avail)
		}
		z.roff += int64(n)
		read += n
		p = p[n:]
	}
	return read, nil
}

// Reset releases every slab back to the pool; callers must not retain
// slices obtained from Read after calling Reset.
func (z *SGL) Reset() {
	for _, s := range z.slabs {
		slabPool.Put(s) //nolint:staticcheck // reused, not retained
	}
	z.slabs = nil
	z.size = 0
	z.roff = 0
}

// MemUsage reports the allocator footprint of this SGL, in the same spirit
// as VSET's mem_usage (spec §4.2): sum of every backing slab's capacity.
func (z *SGL) MemUsage() int64 { return int64(len(z.slabs)) * defaultSlabSize }
