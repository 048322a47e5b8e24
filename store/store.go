// Package store is the minimal per-slot key space the migration core
// drives its DeleteKeysInSlot/SetSlotImporting hooks against (spec §6
// "Key space"), backed by one vset.VSet per slot for volatile-key expiry
// tracking -- the same adaptive container spec §4.1-§4.3 describes,
// exercised here by the daemon rather than left idle.
package store

import (
	"sync"
	"time"

	"github.com/hanzoai/slotkv/cmn"
	"github.com/hanzoai/slotkv/vset"
)

// Store holds one VSet of volatile-key expiries per cluster slot plus a
// plain key->value map, and an importing marker the migration core toggles
// during FAILOVER_GRANTED/cleanup (spec §4.5).
type Store struct {
	mtx       sync.Mutex
	slots     [cmn.SlotCount]*vset.VSet
	data      map[string][]byte
	importing [cmn.SlotCount]bool
}

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func slotOf(key string) int {
	h := 0
	for i := 0; i < len(key); i++ {
		h = h*31 + int(key[i])
	}
	h %= cmn.SlotCount
	if h < 0 {
		h += cmn.SlotCount
	}
	return h
}

func (s *Store) vsetFor(slot int) *vset.VSet {
	if s.slots[slot] == nil {
		s.slots[slot] = vset.New(cmn.GCO.Get().Vset.VectorMax)
	}
	return s.slots[slot]
}

// SetVolatile stores key/value and tracks its expiry in that slot's VSet.
func (s *Store) SetVolatile(key string, value []byte, expiresAt time.Time) {
	slot := slotOf(key)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.data[key] = value
	s.vsetFor(slot).Add(vset.Entry(key), registerExpiry(key, expiresAt))
}

// expiryTable backs the shared ExpiryFunc threaded through VSet operations
// (spec §9's closure-based alternative to thread-local state); kept as a
// tiny side table since VSet only stores entry identifiers.
var expiryTable = struct {
	mtx sync.Mutex
	m   map[string]int64
}{m: make(map[string]int64)}

func registerExpiry(key string, at time.Time) vset.ExpiryFunc {
	expiryTable.mtx.Lock()
	expiryTable.m[key] = at.UnixMilli()
	expiryTable.mtx.Unlock()
	return resolveExpiry
}

// DeleteKeysInSlot implements migration.KeySpace (spec §4.5 cleanup).
func (s *Store) DeleteKeysInSlot(slot int) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.slots[slot] == nil {
		return
	}
	s.slots[slot].Iterator(func(e vset.Entry) {
		key := e.(string)
		delete(s.data, key)
		expiryTable.mtx.Lock()
		delete(expiryTable.m, key)
		expiryTable.mtx.Unlock()
	})
	s.slots[slot] = nil
}

// SetSlotImporting implements migration.KeySpace.
func (s *Store) SetSlotImporting(slot int, importing bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.importing[slot] = importing
}

// Importing reports whether slot is currently mid-import, used by the
// command layer to reject writes per spec §4.5's concurrency note.
func (s *Store) Importing(slot int) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.importing[slot]
}

// ExpireNow runs one RemoveExpired pass over every slot's VSet, the
// runtime counterpart of a Redis-style active-expire cycle; callers wire
// this into hk.Reg the way the supervisor wires its own tick.
func (s *Store) ExpireNow(now time.Time, perSlotMax int) (removed int) {
	nowMS := now.UnixMilli()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, v := range s.slots {
		if v == nil || v.Len() == 0 {
			continue
		}
		removed += v.RemoveExpired(nowMS, perSlotMax, resolveExpiry, func(e vset.Entry) {
			key := e.(string)
			delete(s.data, key)
			expiryTable.mtx.Lock()
			delete(expiryTable.m, key)
			expiryTable.mtx.Unlock()
		})
	}
	return removed
}

func resolveExpiry(e vset.Entry) int64 {
	key := e.(string)
	expiryTable.mtx.Lock()
	defer expiryTable.mtx.Unlock()
	return expiryTable.m[key]
}
