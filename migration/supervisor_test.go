package migration

import (
	"strconv"
	"testing"
	"time"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/cmn"
	"github.com/hanzoai/slotkv/hk"
	"github.com/hanzoai/slotkv/slotrange"
)

func TestTickFailsJobAfterNoInteractionTimeout(t *testing.T) {
	hk.Reset()
	owner := newTestOwner(t)
	space := &stubKeySpace{}
	sup := NewSupervisor(owner, space)

	cfg := cmn.GCO.Get()
	old := time.Now().Add(-cfg.Migration.ReplTimeout.D() - time.Second)
	j := &Job{
		Name:           "stale",
		Op:             OpExport,
		ExState:        ExWaitSnapshot,
		CreateTime:     old,
		LastUpdateTime: old,
		Session:        &stubSession{},
	}
	sup.AddJob(j)

	sup.Tick(time.Now())

	if j.ExState != ExFailed {
		t.Fatalf("state = %s, want FAILED after no-interaction timeout", j.ExState)
	}
}

func TestTickSendsACKAtMostOncePerInterval(t *testing.T) {
	hk.Reset()
	owner := newTestOwner(t)
	space := &stubKeySpace{}
	sup := NewSupervisor(owner, space)

	now := time.Now()
	sess := &stubSession{}
	j := &Job{
		Name:           "streaming",
		Op:             OpExport,
		ExState:        ExStreaming,
		CreateTime:     now,
		LastUpdateTime: now,
		Session:        sess,
	}
	sup.AddJob(j)

	sup.Tick(now)
	firstCount := len(sess.sent)
	if firstCount == 0 {
		t.Fatal("expected an ACK to be sent on the first eligible tick")
	}

	sup.Tick(now)
	if len(sess.sent) != firstCount {
		t.Fatalf("expected no additional ACK within the interval, got %d sends", len(sess.sent))
	}
}

func TestTickSelfSentACKsDoNotMaskNoInteractionTimeout(t *testing.T) {
	hk.Reset()
	owner := newTestOwner(t)
	space := &stubKeySpace{}
	sup := NewSupervisor(owner, space)

	t0 := time.Now()
	sess := &stubSession{}
	j := &Job{
		Name:           "streaming",
		Op:             OpExport,
		ExState:        ExStreaming,
		CreateTime:     t0,
		LastUpdateTime: t0,
		Session:        sess,
	}
	sup.AddJob(j)

	cfg := cmn.GCO.Get()
	sup.Tick(t0.Add(2 * time.Second))
	if len(sess.sent) == 0 {
		t.Fatal("expected the supervisor's own ACK to be sent")
	}
	if !j.LastAckTime.IsZero() {
		t.Fatal("a self-sent ACK must not update LastAckTime, only LastAckSentTime")
	}

	past := t0.Add(cfg.Migration.ReplTimeout.D() + time.Second)
	sup.Tick(past)
	if j.ExState != ExFailed {
		t.Fatalf("state = %s, want FAILED: repeated self-sent ACKs must not prevent the no-interaction timeout", j.ExState)
	}
}

func TestOnTopologyChangeCompletesExportOnOwnershipTransfer(t *testing.T) {
	hk.Reset()
	owner := newTestOwner(t)
	space := &stubKeySpace{}
	sup := NewSupervisor(owner, space)
	owner.RegisterNode(cluster.NewNode("target", "", true))

	now := time.Now()
	list := mustParseList(t, owner, 0, 9)
	j := &Job{
		Name:           "xfer",
		Op:             OpExport,
		Ranges:         list,
		Node:           "target",
		ExState:        ExFailoverGranted,
		CreateTime:     now,
		LastUpdateTime: now,
		Session:        &stubSession{},
	}
	sup.AddJob(j)

	if err := owner.Claim("target", 0, 9); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if j.ExState != ExSuccess {
		t.Fatalf("state = %s, want SUCCESS once target owns every migrated slot", j.ExState)
	}
}

func mustParseList(t *testing.T, owner *cluster.LocalOwner, start, end int) *slotrange.List {
	t.Helper()
	list, err := slotrange.Parse([]string{strconv.Itoa(start), strconv.Itoa(end)}, owner)
	if err != nil {
		t.Fatalf("slotrange.Parse: %v", err)
	}
	return list
}
