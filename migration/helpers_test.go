package migration

import (
	"testing"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/cmn"
)

func defaultMigrationConfigForTest() *cmn.MigrationConfig {
	cfg := cmn.DefaultConfig()
	return &cfg.Migration
}

func newTestOwner(t *testing.T) *cluster.LocalOwner {
	t.Helper()
	self := cluster.NodeID("self")
	lo := cluster.NewLocalOwner(self)
	if err := lo.Claim(self, 0, 99); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return lo
}

type stubKeySpace struct {
	deleted   []int
	importing map[int]bool
}

func (s *stubKeySpace) DeleteKeysInSlot(slot int) { s.deleted = append(s.deleted, slot) }
func (s *stubKeySpace) SetSlotImporting(slot int, importing bool) {
	if s.importing == nil {
		s.importing = map[int]bool{}
	}
	s.importing[slot] = importing
}
