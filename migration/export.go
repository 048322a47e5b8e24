package migration

import (
	"time"

	"github.com/golang/glog"

	"github.com/hanzoai/slotkv/cmn"
	"github.com/hanzoai/slotkv/migration/wire"
	"github.com/hanzoai/slotkv/stats"
)

// ExportDeps are the collaborators an export job's driver needs (spec §6):
// a write pause facility and the snapshot-child singleton. Both are
// process-wide, hence owned by the Supervisor rather than the Job.
type ExportDeps struct {
	Pause        PauseFacility
	SnapshotBusy func() bool // true if another export already owns the snapshot child
}

// PauseFacility is the process-wide write pause handle of spec §9
// "Global pause facility".
type PauseFacility interface {
	Pause(purpose string, deadline time.Time) bool // false if denied (e.g. backlog over cap)
	Unpause(purpose string)
	Paused(purpose string) bool
}

const pausePurpose = "slot-migration"

// driveExport runs one step of the export job's state machine (spec §4.4).
// It never blocks: every non-terminal state either advances or returns
// having made no progress ("yield", spec §9).
func (j *Job) driveExport(now time.Time, deps ExportDeps, cfg *cmn.MigrationConfig, ev Event) {
	if ev.AckReceived {
		j.LastAckTime = now
	}

	switch j.ExState {
	case ExConnect:
		if ev.Connected {
			j.ExState = ExSendAuth
			j.touch(now)
		}
	case ExSendAuth:
		if ev.Written {
			j.ExState = ExReadAuth
			j.touch(now)
		}
	case ExReadAuth:
		if ev.AuthOK {
			j.ExState = ExSendEstablish
			j.touch(now)
		} else if ev.Errored {
			j.fail(now, "AUTH failed: "+ev.ErrText)
		}
	case ExSendEstablish:
		if ev.Written {
			j.ExState = ExReadEstablish
			j.touch(now)
		}
	case ExReadEstablish:
		if ev.EstablishOK {
			j.ExState = ExWaitSnapshot
			j.touch(now)
		} else if ev.Errored {
			j.fail(now, "ESTABLISH failed: "+ev.ErrText)
		}
	case ExWaitSnapshot:
		if !deps.SnapshotBusy() && (j.Session == nil || j.Session.BufferedBytes() == 0) {
			j.ExState = ExSnapshotting
			j.touch(now)
		}
	case ExSnapshotting:
		if ev.RequestPause {
			j.enterFailoverOrWait(now, deps, cfg)
		} else if ev.SnapshotDone {
			j.ExState = ExStreaming
			j.touch(now)
		}
	case ExStreaming:
		if ev.RequestPause {
			j.enterFailoverOrWait(now, deps, cfg)
		}
	case ExWaitPause:
		if deps.Pause.Pause(pausePurpose, j.PauseDeadline) {
			j.ExState = ExFailoverPaused
			if j.Session != nil {
				j.Session.Send(wire.RenderFireAndForget(wire.VerbPaused))
			}
			j.touch(now)
		}
	case ExFailoverPaused:
		if ev.RequestFailover {
			if now.After(j.PauseDeadline) {
				j.fail(now, cmn.ErrTimedOutBeforeStream.Error())
				deps.Pause.Unpause(pausePurpose)
				return
			}
			j.ExState = ExFailoverGranted
			opTimeout := now.Add(cfg.ClusterOperationTmo.D())
			if opTimeout.After(j.PauseDeadline) {
				j.PauseDeadline = opTimeout
			}
			j.touch(now)
		} else if now.After(j.PauseDeadline) {
			// Bare tick past the deadline with no REQUEST-FAILOVER: the
			// target never asked for failover in time (spec §5
			// scenario 5).
			j.fail(now, cmn.ErrTimedOutBeforeStream.Error())
			deps.Pause.Unpause(pausePurpose)
		}
	case ExFailoverGranted:
		if ev.TopologyObserved {
			j.ExState = ExSuccess
			deps.Pause.Unpause(pausePurpose)
			j.touch(now)
		} else if !j.PauseDeadline.IsZero() && now.After(j.PauseDeadline) {
			glog.Warningf("Write loss risk! migration %s: pause deadline passed without failover completion", j.Name)
			stats.WriteLossRisk.Inc()
			j.fail(now, "Write loss risk! Unpaused before migration completed")
			deps.Pause.Unpause(pausePurpose)
		}
	}

	if ev.Errored && !j.ExState.Terminal() && j.ExState != ExFailoverGranted {
		j.fail(now, ev.ErrText)
	}
}

// enterFailoverOrWait implements the SNAPSHOTTING/STREAMING ──
// REQUEST-PAUSE ── branch: pause if allowed, else retry from WAIT_PAUSE
// (spec §4.4).
func (j *Job) enterFailoverOrWait(now time.Time, deps ExportDeps, cfg *cmn.MigrationConfig) {
	if j.PauseDeadline.IsZero() {
		j.PauseDeadline = now.Add(time.Duration(cfg.ClusterMfPauseMult) * cfg.ClusterMfTimeout.D())
	}
	if deps.Pause.Pause(pausePurpose, j.PauseDeadline) {
		j.ExState = ExFailoverPaused
		if j.Session != nil {
			j.Session.Send(wire.RenderFireAndForget(wire.VerbPaused))
		}
	} else {
		j.ExState = ExWaitPause
	}
	j.touch(now)
}

// exportAckEligible reports whether ACKs may be emitted from the export side in
// the current state (spec §4.4 "ACK messages are sent at 1Hz... while not
// in SNAPSHOTTING/CONNECT/AUTH/ESTABLISH").
func (j *Job) exportAckEligible() bool {
	switch j.ExState {
	case ExConnect, ExSendAuth, ExReadAuth, ExSendEstablish, ExReadEstablish, ExSnapshotting:
		return false
	default:
		return !j.ExState.Terminal()
	}
}

// Event bundles the I/O readiness and inbound-subcommand signals the
// driver consumes this tick (spec §9 "yield by return": the driver is a
// pure function of (state, event) -> next state). The transport layer
// constructs these from control-channel lines and feeds them to
// Supervisor.DriveExportEvent/DriveImportEvent.
type Event struct {
	Connected        bool
	Written          bool
	AuthOK           bool
	EstablishOK      bool
	SnapshotDone     bool
	RequestPause     bool
	RequestFailover  bool
	TopologyObserved bool

	// import-side signals (spec §4.5)
	AckReceived     bool
	SnapshotEOF     bool
	Paused          bool
	FailoverGranted bool

	Errored bool
	ErrText string
}
