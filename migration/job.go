// Package migration implements the slot migration protocol: the dual
// export/import state machines of spec §4.4/§4.5, the control-channel
// verbs of §4.6, and the per-tick supervisor of §4.7.
package migration

import (
	"time"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/slotrange"
)

// Operation distinguishes which side of the protocol a Job drives.
type Operation string

const (
	OpExport Operation = "EXPORT"
	OpImport Operation = "IMPORT"
)

// ExportState enumerates spec §4.4's export state machine, terminal
// states last.
type ExportState string

const (
	ExConnect        ExportState = "CONNECT"
	ExSendAuth       ExportState = "SEND_AUTH"
	ExReadAuth       ExportState = "READ_AUTH"
	ExSendEstablish  ExportState = "SEND_ESTABLISH"
	ExReadEstablish  ExportState = "READ_ESTABLISH"
	ExWaitSnapshot   ExportState = "WAIT_SNAPSHOT"
	ExSnapshotting   ExportState = "SNAPSHOTTING"
	ExStreaming      ExportState = "STREAMING"
	ExWaitPause      ExportState = "WAIT_PAUSE"
	ExFailoverPaused ExportState = "FAILOVER_PAUSED"
	ExFailoverGranted ExportState = "FAILOVER_GRANTED"
	ExSuccess        ExportState = "SUCCESS"
	ExFailed         ExportState = "FAILED"
	ExCancelled      ExportState = "CANCELLED"
)

func (s ExportState) Terminal() bool {
	return s == ExSuccess || s == ExFailed || s == ExCancelled
}

// ImportState enumerates spec §4.5's import state machine.
type ImportState string

const (
	ImWaitAck                  ImportState = "WAIT_ACK"
	ImReceiveSnapshot          ImportState = "RECEIVE_SNAPSHOT"
	ImWaitPaused               ImportState = "WAIT_PAUSED"
	ImFailoverRequested        ImportState = "FAILOVER_REQUESTED"
	ImFailoverGranted          ImportState = "FAILOVER_GRANTED"
	ImSuccess                  ImportState = "SUCCESS"
	ImFailed                   ImportState = "FAILED"
	ImFinishedWaitingToCleanup ImportState = "FINISHED_WAITING_TO_CLEANUP"
)

func (s ImportState) Terminal() bool {
	return s == ImSuccess || s == ImFailed
}

// Job is the shared record for both export and import jobs (spec §3's
// MigrationJob, carrying every field GETSLOTMIGRATIONS reports).
type Job struct {
	Name    string
	Op      Operation
	Ranges  *slotrange.List
	Node    cluster.NodeID // declared counterpart: target for EXPORT, source for IMPORT

	ExState ExportState
	ImState ImportState

	CreateTime     time.Time
	LastUpdateTime time.Time
	LastAckTime    time.Time // last inbound ACK (spec §4.6, §4.7.1's "last interaction")

	// LastAckSentTime is when this side last emitted its own 1Hz ACK
	// (supervisor.go step 2); tracked separately from LastAckTime so
	// self-rate-limiting never masquerades as inbound interaction.
	LastAckSentTime time.Time

	PauseDeadline time.Time // zero means no pause active
	Message       string

	// PostCleanupState is the terminal import state to move to once
	// FINISHED_WAITING_TO_CLEANUP's key/marker cleanup completes (spec
	// §4.5). Decision (DESIGN.md, resolving spec §9's open question): on
	// success, cleanup is skipped entirely and this field is unused; on
	// any failure path, cleanup runs and then this records ImFailed.
	PostCleanupState ImportState

	// Session is the bound control-channel connection, nil once the
	// session is freed on terminal transition (spec §7 propagation).
	Session Session
}

// Session is the minimal collaborator a Job needs from the transport
// layer (spec §6 "Session/connection primitive").
type Session interface {
	Send(msg string) error
	BufferedBytes() int64
	Close() error
}

func (j *Job) touch(now time.Time) { j.LastUpdateTime = now }

// State returns the job's current state as a string, for GETSLOTMIGRATIONS
// and logging, regardless of which machine it is.
func (j *Job) State() string {
	if j.Op == OpExport {
		return string(j.ExState)
	}
	return string(j.ImState)
}

// Terminal reports whether the job has reached a terminal state.
func (j *Job) Terminal() bool {
	if j.Op == OpExport {
		return j.ExState.Terminal()
	}
	return j.ImState.Terminal() && j.ImState != ImFinishedWaitingToCleanup
}

func (j *Job) fail(now time.Time, msg string) {
	j.Message = msg
	if j.Op == OpExport {
		j.ExState = ExFailed
	} else {
		j.ImState = ImFailed
	}
	if j.Session != nil {
		j.Session.Close()
		j.Session = nil
	}
	j.touch(now)
}
