// Package hk provides the process-wide housekeeping ticker registry that
// drives every periodic pass in slotkv -- most importantly the migration
// supervisor's once-per-cron-pass tick (spec §4.7). Grounded on the
// teacher's cluster/lom_cache_hk.go usage of `hk.Reg("lom-cache.gc", fn,
// initialInterval)`: callers register a named callback that returns the
// delay until its next run, and the registry itself owns the single
// goroutine that fires them -- no component maintains its own ticker.
package hk

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

type entry struct {
	name string
	fn   func() time.Duration
	next time.Time
}

type registry struct {
	mtx     sync.Mutex
	entries []*entry
	wake    chan struct{}
	once    sync.Once
}

var reg = &registry{wake: make(chan struct{}, 1)}

// Reg registers fn to run first after `after`, and thereafter after
// whatever duration fn itself returns (spec §4.7: "once per cluster cron
// pass"). The background runner goroutine is started lazily on first Reg.
func Reg(name string, fn func() time.Duration, after time.Duration) {
	reg.mtx.Lock()
	reg.entries = append(reg.entries, &entry{name: name, fn: fn, next: time.Now().Add(after)})
	reg.mtx.Unlock()
	reg.once.Do(reg.run)
}

// Kick wakes the runner immediately, used by command handlers that need
// the supervisor to re-evaluate state without waiting for the next tick
// (spec §4.7: "re-entered at cron boundaries and upon inbound subcommand
// arrival").
func Kick() {
	select {
	case reg.wake <- struct{}{}:
	default:
	}
}

func (r *registry) run() {
	go func() {
		t := time.NewTicker(50 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
			case <-r.wake:
			}
			r.fire()
		}
	}()
}

func (r *registry) fire() {
	now := time.Now()
	r.mtx.Lock()
	due := r.entries[:0:0]
	for _, e := range r.entries {
		if !now.Before(e.next) {
			due = append(due, e)
		}
	}
	r.mtx.Unlock()
	for _, e := range due {
		d := e.fn()
		if d <= 0 {
			glog.Warningf("hk: %s returned non-positive interval, defaulting to 1s", e.name)
			d = time.Second
		}
		e.next = time.Now().Add(d)
	}
}

// Reset clears the registry; used only by tests that need a clean process
// state between cases.
func Reset() {
	reg.mtx.Lock()
	reg.entries = nil
	reg.mtx.Unlock()
}
