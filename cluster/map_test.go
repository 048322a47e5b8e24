package cluster

import "testing"

func TestNewLocalOwnerSeedsSelfAsPrimary(t *testing.T) {
	lo := NewLocalOwner("self")
	if !lo.IsSelfPrimary() {
		t.Fatal("a freshly constructed LocalOwner should be primary for itself")
	}
	if lo.SelfID() != "self" {
		t.Fatalf("SelfID() = %s, want self", lo.SelfID())
	}
}

func TestClaimAssignsOwnershipAndBumpsVersion(t *testing.T) {
	lo := NewLocalOwner("self")
	lo.RegisterNode(NewNode("target", "", true))
	before := lo.Get().Version

	if err := lo.Claim("target", 0, 9); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if after := lo.Get().Version; after <= before {
		t.Fatalf("version = %d, want it to increase from %d", after, before)
	}
	for slot := 0; slot <= 9; slot++ {
		owner, ok := lo.SlotOwnerID(slot)
		if !ok || owner != "target" {
			t.Fatalf("slot %d owner = %s (ok=%v), want target", slot, owner, ok)
		}
	}
}

func TestClaimRejectsUnknownNode(t *testing.T) {
	lo := NewLocalOwner("self")
	if err := lo.Claim("ghost", 0, 9); err == nil {
		t.Fatal("expected an error claiming slots for an unregistered node")
	}
}

func TestClaimRejectsInvalidRange(t *testing.T) {
	lo := NewLocalOwner("self")
	if err := lo.Claim("self", 9, 0); err == nil {
		t.Fatal("expected an error for start > end")
	}
	if err := lo.Claim("self", 0, 999999); err == nil {
		t.Fatal("expected an error for a range exceeding SlotCount")
	}
}

func TestBumpEpochIsMonotonic(t *testing.T) {
	lo := NewLocalOwner("self")
	first := lo.BumpEpoch()
	second := lo.BumpEpoch()
	if second <= first {
		t.Fatalf("epoch did not increase: %d then %d", first, second)
	}
}

type recordingListener struct {
	changes int
	lastMap *Map
}

func (l *recordingListener) OnTopologyChange(m *Map) {
	l.changes++
	l.lastMap = m
}

func TestListenFiresSynchronouslyOnClaim(t *testing.T) {
	lo := NewLocalOwner("self")
	lo.RegisterNode(NewNode("target", "", true))
	listener := &recordingListener{}
	lo.Listen(listener)

	if err := lo.Claim("target", 0, 9); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if listener.changes != 1 {
		t.Fatalf("listener fired %d times, want 1", listener.changes)
	}
	if listener.lastMap.Owners[0] != "target" {
		t.Fatal("listener should observe the published map with the new ownership already applied")
	}
}

func TestDigestIsStableForSameID(t *testing.T) {
	a := Digest("node-a")
	b := Digest("node-a")
	if a != b {
		t.Fatal("Digest should be deterministic for the same NodeID")
	}
	if Digest("node-a") == Digest("node-b") {
		t.Fatal("Digest should differ for distinct NodeIDs (extremely unlikely collision)")
	}
}
