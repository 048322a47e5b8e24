package migration

import (
	"time"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/migration/wire"
)

// ImportDeps are the collaborators an import job's driver needs (spec §6):
// the cluster map to perform takeover against, and the key-space hook to
// clear "importing" markers / delete stray keys during cleanup.
type ImportDeps struct {
	Owner   cluster.SlotOwner
	KeySpace KeySpace
}

// KeySpace is the subset of spec §6's "Key space" collaborator the import
// driver needs.
type KeySpace interface {
	DeleteKeysInSlot(slot int)
	SetSlotImporting(slot int, importing bool)
}

// driveImport runs one step of the import job's state machine (spec §4.5).
func (j *Job) driveImport(now time.Time, deps ImportDeps, ev Event) {
	if ev.AckReceived {
		j.LastAckTime = now
	}

	switch j.ImState {
	case ImWaitAck:
		if ev.AckReceived {
			j.ImState = ImReceiveSnapshot
			j.touch(now)
		}
	case ImReceiveSnapshot:
		if ev.SnapshotEOF {
			j.ImState = ImWaitPaused
			if j.Session != nil {
				j.Session.Send(wire.RenderFireAndForget(wire.VerbRequestPause))
			}
			j.touch(now)
		}
	case ImWaitPaused:
		if ev.Paused {
			j.ImState = ImFailoverRequested
			if j.Session != nil {
				j.Session.Send(wire.RenderFireAndForget(wire.VerbRequestFailover))
			}
			j.touch(now)
		}
	case ImFailoverRequested:
		if ev.FailoverGranted {
			j.ImState = ImFailoverGranted
			j.performTakeover(now, deps)
			j.ImState = ImSuccess
			j.touch(now)
		}
	case ImFinishedWaitingToCleanup:
		j.runCleanup(deps)
		j.ImState = j.PostCleanupState
		j.touch(now)
	}

	if ev.Errored && !j.ImState.Terminal() && j.ImState != ImFinishedWaitingToCleanup {
		j.failImport(now, ev.ErrText)
	}
}

// failImport routes a failure through the FINISHED_WAITING_TO_CLEANUP
// side-visit (spec §4.5, and spec §9's open-question resolution recorded
// in DESIGN.md: cleanup always runs on a failure path, never on success).
func (j *Job) failImport(now time.Time, msg string) {
	j.Message = msg
	j.PostCleanupState = ImFailed
	j.ImState = ImFinishedWaitingToCleanup
	if j.Session != nil {
		j.Session.Close()
		j.Session = nil
	}
	j.touch(now)
}

// runCleanup deletes keys in the migrated ranges not owned by this node
// and clears the importing marker on every affected slot (spec §4.5).
func (j *Job) runCleanup(deps ImportDeps) {
	if j.Ranges == nil {
		return
	}
	self := deps.Owner.SelfID()
	for _, r := range j.Ranges.Ranges {
		for slot := r.Start; slot <= r.End; slot++ {
			if owner, ok := deps.Owner.SlotOwnerID(slot); !ok || owner != self {
				deps.KeySpace.DeleteKeysInSlot(slot)
			}
			deps.KeySpace.SetSlotImporting(slot, false)
		}
	}
}

// performTakeover implements spec §4.5's four-step takeover sequence,
// performed when entering FAILOVER_GRANTED.
func (j *Job) performTakeover(now time.Time, deps ImportDeps) {
	owner, ok := deps.Owner.(*cluster.LocalOwner)
	if !ok || j.Ranges == nil {
		return
	}
	owner.BumpEpoch()
	self := owner.SelfID()
	for _, r := range j.Ranges.Ranges {
		owner.Claim(self, r.Start, r.End)
	}
	owner.SaveAndFsyncConfig()
	owner.BroadcastTopology()
	for _, r := range j.Ranges.Ranges {
		for slot := r.Start; slot <= r.End; slot++ {
			deps.KeySpace.SetSlotImporting(slot, false)
		}
	}
}

// importAckEligible reports whether ACKs may be emitted from the import
// side (spec §4.4 "from the target after it has sent the first ACK";
// spec §8 property 7 additionally forbids ACKs in IMPORT_WAIT_ACK).
func (j *Job) importAckEligible() bool {
	return j.ImState != ImWaitAck && !j.ImState.Terminal() && j.ImState != ImFinishedWaitingToCleanup
}
