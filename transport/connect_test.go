package transport

import (
	"testing"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/hk"
	"github.com/hanzoai/slotkv/migration"
)

type stubKeySpace struct{}

func (stubKeySpace) DeleteKeysInSlot(slot int)             {}
func (stubKeySpace) SetSlotImporting(slot int, importing bool) {}

func newDispatchFixture(t *testing.T) *migration.Supervisor {
	t.Helper()
	hk.Reset()
	owner := cluster.NewLocalOwner("self")
	owner.RegisterNode(cluster.NewNode("target", "", true))
	if err := owner.Claim("self", 0, 99); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return migration.NewSupervisor(owner, stubKeySpace{})
}

func TestDispatchSteadyStateLineFailsJobOnUnknownVerb(t *testing.T) {
	sup := newDispatchFixture(t)
	jobs, err := sup.MigrateSlots([]migration.MigrateSpec{{Tokens: []string{"0", "9"}, Node: "target"}})
	if err != nil {
		t.Fatalf("MigrateSlots: %v", err)
	}
	jobs[0].ExState = migration.ExStreaming

	dispatchSteadyStateLine(sup, jobs[0].Name, "NOT-A-REAL-VERB")

	if jobs[0].ExState != migration.ExFailed {
		t.Fatalf("state = %s, want FAILED after an unrecognized control verb", jobs[0].ExState)
	}
}

func TestDispatchSteadyStateLineRoutesAckToEitherRole(t *testing.T) {
	sup := newDispatchFixture(t)
	jobs, err := sup.MigrateSlots([]migration.MigrateSpec{{Tokens: []string{"0", "9"}, Node: "target"}})
	if err != nil {
		t.Fatalf("MigrateSlots: %v", err)
	}
	jobs[0].ExState = migration.ExStreaming

	dispatchSteadyStateLine(sup, jobs[0].Name, "ACK")

	if jobs[0].ExState == migration.ExFailed {
		t.Fatal("an ACK on an export job must not fail it")
	}
	if jobs[0].LastAckTime.IsZero() {
		t.Fatal("expected the inbound ACK to update LastAckTime")
	}
}
