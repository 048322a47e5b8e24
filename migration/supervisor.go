package migration

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/cmn"
	"github.com/hanzoai/slotkv/hk"
	"github.com/hanzoai/slotkv/migration/wire"
	"github.com/hanzoai/slotkv/stats"
)

// Supervisor drives every migration job's state machine once per tick
// (spec §4.7) and owns the process-wide pause facility and snapshot-child
// singleton (spec §5 "Shared-resource policy").
type Supervisor struct {
	mtx  sync.Mutex
	jobs []*Job

	owner cluster.SlotOwner
	space KeySpace

	pause        simplePause
	snapshotBusy bool

	finishedCap int
}

// NewSupervisor constructs a Supervisor and registers its tick with the
// housekeeping ticker registry, matching the teacher's hk.Reg pattern for
// periodic background work.
func NewSupervisor(owner cluster.SlotOwner, space KeySpace) *Supervisor {
	s := &Supervisor{
		owner:       owner,
		space:       space,
		finishedCap: cmn.GCO.Get().Migration.FinishedLogCap,
	}
	owner.Listen(s)
	hk.Reg("migration-supervisor", func() time.Duration {
		s.Tick(time.Now())
		return cmn.GCO.Get().Migration.AckInterval.D()
	}, cmn.GCO.Get().Migration.AckInterval.D())
	return s
}

// AddJob registers a freshly created job with the supervisor.
func (s *Supervisor) AddJob(j *Job) {
	s.mtx.Lock()
	s.jobs = append(s.jobs, j)
	s.mtx.Unlock()
}

// Jobs returns a snapshot of the current job list, for GETSLOTMIGRATIONS.
func (s *Supervisor) Jobs() []*Job {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make([]*Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Tick implements spec §4.7's five-step per-tick pass.
func (s *Supervisor) Tick(now time.Time) {
	s.mtx.Lock()
	jobs := append([]*Job(nil), s.jobs...)
	s.mtx.Unlock()

	cfg := &cmn.GCO.Get().Migration

	for _, j := range jobs {
		if j.Terminal() {
			continue
		}

		// Step 1: no-interaction timeout.
		if j.ExState != ExFailoverGranted {
			since := now.Sub(j.LastUpdateTime)
			if j.LastAckTime.After(j.LastUpdateTime) {
				since = now.Sub(j.LastAckTime)
			}
			if since > cfg.ReplTimeout.D() {
				j.failJob(now, cmn.ErrTimedOutNoInteraction.Error())
				stats.JobsFinished.WithLabelValues(string(j.Op), "failed").Inc()
				continue
			}
		}

		// Step 2: ACK at most once per second. LastAckSentTime tracks our
		// own emission cadence; LastAckTime is reserved for inbound ACKs so
		// step 1's no-interaction timeout can't be defeated by our own
		// outbound traffic.
		if s.ackEligible(j) && now.Sub(j.LastAckSentTime) >= cfg.AckInterval.D() {
			if j.Session != nil {
				j.Session.Send(wire.RenderFireAndForget(wire.VerbACK))
			}
			j.LastAckSentTime = now
			stats.ACKsSent.WithLabelValues(string(j.Op)).Inc()
		}

		// Step 3: advance the driver. Real I/O readiness is delivered by the
		// transport layer via DriveExportEvent/DriveImportEvent from its own event
		// loop; a bare tick with no new signal is itself a valid "no
		// progress" yield for WAIT_* states.
		s.driveOne(now, j, Event{})
	}

	s.trimFinished()
	s.maybeUnpause()
}

func (s *Supervisor) ackEligible(j *Job) bool {
	if j.Op == OpExport {
		return j.exportAckEligible()
	}
	return j.importAckEligible()
}

func (s *Supervisor) driveOne(now time.Time, j *Job, ev Event) {
	if j.Op == OpExport {
		j.driveExport(now, ExportDeps{Pause: &s.pause, SnapshotBusy: s.isSnapshotBusy}, &cmn.GCO.Get().Migration, ev)
	} else {
		j.driveImport(now, ImportDeps{Owner: s.owner, KeySpace: s.space}, ev)
	}
}

func (j *Job) failJob(now time.Time, msg string) {
	if j.Op == OpExport {
		j.fail(now, msg)
	} else {
		j.failImport(now, msg)
	}
}

func (s *Supervisor) isSnapshotBusy() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.snapshotBusy
}

// DriveExportEvent delivers an inbound signal to a named export job from
// the transport layer's event loop (spec §5: "the driver must never
// block"; I/O readiness arrives asynchronously). A verb legal only on the
// export side arriving for a job actually running as import fails that job
// rather than silently dropping the signal.
func (s *Supervisor) DriveExportEvent(name string, ev Event) {
	j := s.find(name)
	if j == nil {
		return
	}
	if j.Op != OpExport {
		s.failMismatched(j)
		return
	}
	s.driveOne(time.Now(), j, ev)
}

// DriveImportEvent is the import-side analogue of DriveExportEvent.
func (s *Supervisor) DriveImportEvent(name string, ev Event) {
	j := s.find(name)
	if j == nil {
		return
	}
	if j.Op != OpImport {
		s.failMismatched(j)
		return
	}
	s.driveOne(time.Now(), j, ev)
}

func (s *Supervisor) failMismatched(j *Job) {
	if j.Terminal() {
		return
	}
	j.failJob(time.Now(), cmn.ErrUnexpectedTransition.Error())
	stats.JobsFinished.WithLabelValues(string(j.Op), "failed").Inc()
}

// DriveEvent delivers an inbound signal to a named job regardless of which
// side of the protocol it drives, for control-channel verbs (ACK) that are
// legal on a job in either role.
func (s *Supervisor) DriveEvent(name string, ev Event) {
	if j := s.find(name); j != nil {
		s.driveOne(time.Now(), j, ev)
	}
}

// FailJobByName terminates a named job outside of its state machine's usual
// transitions, for control-channel conditions spec §4.6/§7 require to fail
// the job immediately: an unknown verb or one illegal for the job's current
// state, from a session already bound to an in-progress job.
func (s *Supervisor) FailJobByName(name, msg string) {
	if j := s.find(name); j != nil && !j.Terminal() {
		j.failJob(time.Now(), msg)
		stats.JobsFinished.WithLabelValues(string(j.Op), "failed").Inc()
	}
}

func (s *Supervisor) find(name string) *Job {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// trimFinished implements spec §4.7 step 4: drop finished jobs beyond the
// configured log cap, oldest first.
func (s *Supervisor) trimFinished() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var finished, live []*Job
	for _, j := range s.jobs {
		if j.Terminal() {
			finished = append(finished, j)
		} else {
			live = append(live, j)
		}
	}
	if len(finished) > s.finishedCap {
		finished = finished[len(finished)-s.finishedCap:]
	}
	s.jobs = append(live, finished...)
}

// maybeUnpause implements spec §4.7 step 5 / spec §8 property 5: if no
// in-progress export still has a pause deadline set, release the pause.
func (s *Supervisor) maybeUnpause() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, j := range s.jobs {
		if j.Op == OpExport && !j.Terminal() && !j.PauseDeadline.IsZero() {
			return
		}
	}
	s.pause.Unpause(pausePurpose)
}

// OnTopologyChange implements cluster.TopologyListener (spec §9 "Topology
// hooks" / §4.7's topology-change hook).
func (s *Supervisor) OnTopologyChange(m *cluster.Map) {
	now := time.Now()
	s.mtx.Lock()
	jobs := append([]*Job(nil), s.jobs...)
	s.mtx.Unlock()

	self := m.Self
	for _, j := range jobs {
		if j.Terminal() || j.Ranges == nil {
			continue
		}
		switch j.Op {
		case OpExport:
			allClaimedByTarget := true
			anyLostToOther := false
			for _, r := range j.Ranges.Ranges {
				for slot := r.Start; slot <= r.End; slot++ {
					owner := m.Owners[slot]
					if owner != j.Node {
						allClaimedByTarget = false
					}
					if owner != self && owner != j.Node {
						anyLostToOther = true
					}
				}
			}
			if allClaimedByTarget {
				j.ExState = ExSuccess
				j.touch(now)
				stats.JobsFinished.WithLabelValues(string(j.Op), "success").Inc()
			} else if anyLostToOther {
				j.fail(now, "slot ownership changed away from this node")
			}
		case OpImport:
			if !s.owner.IsSelfPrimary() {
				j.failImport(now, "demoted to replica")
				continue
			}
			assignedToSelf := false
			mismatched := false
			for _, r := range j.Ranges.Ranges {
				for slot := r.Start; slot <= r.End; slot++ {
					owner := m.Owners[slot]
					if owner == self {
						assignedToSelf = true
					} else if owner != j.Node && owner != self {
						mismatched = true
					}
				}
			}
			if assignedToSelf && j.ImState != ImFailoverGranted && j.ImState != ImSuccess {
				j.failImport(now, cmn.ErrAssignedToMyself.Error())
			} else if mismatched {
				j.failImport(now, "slot ownership no longer matches source or self")
			}
		}
	}
}

// OnFlush implements spec §4.4/§4.5/§4.7's flush hook: any in-progress job
// is failed, without sending a wire FAIL message (spec §9 open question,
// resolved: rely on reconnection rather than a new protocol message).
func (s *Supervisor) OnFlush() {
	now := time.Now()
	s.mtx.Lock()
	jobs := append([]*Job(nil), s.jobs...)
	s.mtx.Unlock()

	for _, j := range jobs {
		if !j.Terminal() {
			glog.Infof("migration %s: failing job on data flush", j.Name)
			j.failJob(now, cmn.ErrDataFlushed.Error())
		}
	}
}

/////////////////////
// simplePause //
/////////////////////

// simplePause implements PauseFacility with the invariant from spec §5:
// at most one purpose active for slot migration, released only when no
// job holds a deadline (enforced by the Supervisor, not here).
type simplePause struct {
	mtx    sync.Mutex
	active map[string]bool
}

func (p *simplePause) Pause(purpose string, deadline time.Time) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.active == nil {
		p.active = map[string]bool{}
	}
	p.active[purpose] = true
	stats.PauseActive.Set(1)
	return true
}

func (p *simplePause) Unpause(purpose string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	delete(p.active, purpose)
	if len(p.active) == 0 {
		stats.PauseActive.Set(0)
	}
}

func (p *simplePause) Paused(purpose string) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.active[purpose]
}
