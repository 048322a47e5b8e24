package migration

import (
	"testing"
	"time"
)

type stubSession struct {
	sent    []string
	closed  bool
	buffered int64
}

func (s *stubSession) Send(msg string) error { s.sent = append(s.sent, msg); return nil }
func (s *stubSession) BufferedBytes() int64  { return s.buffered }
func (s *stubSession) Close() error          { s.closed = true; return nil }

type stubPause struct {
	allow bool
	paused map[string]bool
}

func (p *stubPause) Pause(purpose string, deadline time.Time) bool {
	if p.paused == nil {
		p.paused = map[string]bool{}
	}
	if p.allow {
		p.paused[purpose] = true
	}
	return p.allow
}
func (p *stubPause) Unpause(purpose string) { delete(p.paused, purpose) }
func (p *stubPause) Paused(purpose string) bool { return p.paused[purpose] }

func TestExportHappyPathToWaitSnapshot(t *testing.T) {
	now := time.Now()
	j := &Job{Name: "job1", Op: OpExport, ExState: ExConnect, Session: &stubSession{}}
	deps := ExportDeps{Pause: &stubPause{allow: true}, SnapshotBusy: func() bool { return false }}
	cfg := defaultMigrationConfigForTest()

	j.driveExport(now, deps, cfg, Event{Connected: true})
	if j.ExState != ExSendAuth {
		t.Fatalf("after Connected: state = %s, want SEND_AUTH", j.ExState)
	}
	j.driveExport(now, deps, cfg, Event{Written: true})
	if j.ExState != ExReadAuth {
		t.Fatalf("after Written: state = %s, want READ_AUTH", j.ExState)
	}
	j.driveExport(now, deps, cfg, Event{AuthOK: true})
	if j.ExState != ExSendEstablish {
		t.Fatalf("after AuthOK: state = %s, want SEND_ESTABLISH", j.ExState)
	}
	j.driveExport(now, deps, cfg, Event{Written: true})
	if j.ExState != ExReadEstablish {
		t.Fatalf("after Written: state = %s, want READ_ESTABLISH", j.ExState)
	}
	j.driveExport(now, deps, cfg, Event{EstablishOK: true})
	if j.ExState != ExWaitSnapshot {
		t.Fatalf("after EstablishOK: state = %s, want WAIT_SNAPSHOT", j.ExState)
	}
	j.driveExport(now, deps, cfg, Event{})
	if j.ExState != ExSnapshotting {
		t.Fatalf("after tick with no backlog: state = %s, want SNAPSHOTTING", j.ExState)
	}
}

func TestExportAuthFailureTerminatesJob(t *testing.T) {
	now := time.Now()
	sess := &stubSession{}
	j := &Job{Name: "job1", Op: OpExport, ExState: ExReadAuth, Session: sess}
	deps := ExportDeps{Pause: &stubPause{allow: true}, SnapshotBusy: func() bool { return false }}
	cfg := defaultMigrationConfigForTest()

	j.driveExport(now, deps, cfg, Event{Errored: true, ErrText: "bad token"})
	if j.ExState != ExFailed {
		t.Fatalf("state = %s, want FAILED", j.ExState)
	}
	if !sess.closed {
		t.Fatal("expected session to be closed on failure")
	}
}

func TestExportPauseDeniedGoesToWaitPause(t *testing.T) {
	now := time.Now()
	j := &Job{Name: "job1", Op: OpExport, ExState: ExStreaming, Session: &stubSession{}}
	deps := ExportDeps{Pause: &stubPause{allow: false}, SnapshotBusy: func() bool { return false }}
	cfg := defaultMigrationConfigForTest()

	j.driveExport(now, deps, cfg, Event{RequestPause: true})
	if j.ExState != ExWaitPause {
		t.Fatalf("state = %s, want WAIT_PAUSE when pause is denied", j.ExState)
	}
	if j.PauseDeadline.IsZero() {
		t.Fatal("expected a pause deadline to be set")
	}
}

func TestExportFailoverPausedDeadlineExtendsForward(t *testing.T) {
	now := time.Now()
	j := &Job{
		Name:          "job1",
		Op:            OpExport,
		ExState:       ExFailoverPaused,
		PauseDeadline: now.Add(1 * time.Second), // shorter than ClusterOperationTmo
		Session:       &stubSession{},
	}
	deps := ExportDeps{Pause: &stubPause{allow: true}, SnapshotBusy: func() bool { return false }}
	cfg := defaultMigrationConfigForTest()

	j.driveExport(now, deps, cfg, Event{RequestFailover: true})
	if j.ExState != ExFailoverGranted {
		t.Fatalf("state = %s, want FAILOVER_GRANTED", j.ExState)
	}
	want := now.Add(cfg.ClusterOperationTmo.D())
	if !j.PauseDeadline.Equal(want) {
		t.Fatalf("deadline = %v, want the larger value %v", j.PauseDeadline, want)
	}
}

func TestExportFailoverPausedDeadlineMissedFails(t *testing.T) {
	now := time.Now()
	j := &Job{
		Name:          "job1",
		Op:            OpExport,
		ExState:       ExFailoverPaused,
		PauseDeadline: now.Add(-time.Second),
		Session:       &stubSession{},
	}
	deps := ExportDeps{Pause: &stubPause{allow: true}, SnapshotBusy: func() bool { return false }}
	cfg := defaultMigrationConfigForTest()

	j.driveExport(now, deps, cfg, Event{RequestFailover: true})
	if j.ExState != ExFailed {
		t.Fatalf("state = %s, want FAILED when failover arrives after the deadline", j.ExState)
	}
}

func TestExportFailoverPausedBareTickPastDeadlineFails(t *testing.T) {
	now := time.Now()
	pause := &stubPause{allow: true, paused: map[string]bool{pausePurpose: true}}
	j := &Job{
		Name:          "job1",
		Op:            OpExport,
		ExState:       ExFailoverPaused,
		PauseDeadline: now.Add(-time.Second),
		Session:       &stubSession{},
	}
	deps := ExportDeps{Pause: pause, SnapshotBusy: func() bool { return false }}
	cfg := defaultMigrationConfigForTest()

	j.driveExport(now, deps, cfg, Event{})
	if j.ExState != ExFailed {
		t.Fatalf("state = %s, want FAILED on a bare tick past the pause deadline with no REQUEST-FAILOVER", j.ExState)
	}
	if pause.Paused(pausePurpose) {
		t.Fatal("expected the pause to be released once the job fails")
	}
}

func TestImportHappyPathToSuccess(t *testing.T) {
	now := time.Now()
	owner := newTestOwner(t)
	space := &stubKeySpace{}
	j := &Job{Name: "job1", Op: OpImport, ImState: ImWaitAck, Session: &stubSession{}}
	deps := ImportDeps{Owner: owner, KeySpace: space}

	j.driveImport(now, deps, Event{AckReceived: true})
	if j.ImState != ImReceiveSnapshot {
		t.Fatalf("state = %s, want RECEIVE_SNAPSHOT", j.ImState)
	}
	j.driveImport(now, deps, Event{SnapshotEOF: true})
	if j.ImState != ImWaitPaused {
		t.Fatalf("state = %s, want WAIT_PAUSED", j.ImState)
	}
	j.driveImport(now, deps, Event{Paused: true})
	if j.ImState != ImFailoverRequested {
		t.Fatalf("state = %s, want FAILOVER_REQUESTED", j.ImState)
	}
	j.driveImport(now, deps, Event{FailoverGranted: true})
	if j.ImState != ImSuccess {
		t.Fatalf("state = %s, want SUCCESS, got %s", j.ImState, j.ImState)
	}
}

func TestImportFailureGoesThroughCleanup(t *testing.T) {
	now := time.Now()
	owner := newTestOwner(t)
	space := &stubKeySpace{}
	j := &Job{Name: "job1", Op: OpImport, ImState: ImReceiveSnapshot, Session: &stubSession{}}
	deps := ImportDeps{Owner: owner, KeySpace: space}

	j.driveImport(now, deps, Event{Errored: true, ErrText: "boom"})
	if j.ImState != ImFinishedWaitingToCleanup {
		t.Fatalf("state = %s, want FINISHED_WAITING_TO_CLEANUP immediately after failure", j.ImState)
	}

	j.driveImport(now, deps, Event{})
	if j.ImState != ImFailed {
		t.Fatalf("state = %s, want FAILED after cleanup runs", j.ImState)
	}
}

func TestJobTerminal(t *testing.T) {
	j := &Job{Op: OpImport, ImState: ImFinishedWaitingToCleanup}
	if j.Terminal() {
		t.Fatal("FINISHED_WAITING_TO_CLEANUP must not report Terminal")
	}
	j.ImState = ImSuccess
	if !j.Terminal() {
		t.Fatal("SUCCESS must report Terminal")
	}
}
