package slotrange

import (
	"testing"

	"github.com/hanzoai/slotkv/cluster"
)

func ownerFixture() *cluster.LocalOwner {
	self := cluster.NodeID("self")
	other := cluster.NodeID("other")
	lo := cluster.NewLocalOwner(self)
	lo.RegisterNode(cluster.NewNode(other, "", true))
	if err := lo.Claim(self, 0, 99); err != nil {
		panic(err)
	}
	if err := lo.Claim(other, 100, 199); err != nil {
		panic(err)
	}
	return lo
}

func TestParseRenderRoundTrip(t *testing.T) {
	owner := ownerFixture()
	list, err := Parse([]string{"0", "49", "50", "99"}, owner)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if list.Owner != "self" {
		t.Fatalf("owner = %s, want self", list.Owner)
	}

	tokens := list.Render()
	again, err := Parse(tokens, owner)
	if err != nil {
		t.Fatalf("Parse(Render(list)): %v", err)
	}
	if len(again.Ranges) != len(list.Ranges) {
		t.Fatalf("round trip changed range count: %d vs %d", len(again.Ranges), len(list.Ranges))
	}
	for i := range list.Ranges {
		if again.Ranges[i] != list.Ranges[i] {
			t.Fatalf("round trip mismatch at %d: %+v vs %+v", i, again.Ranges[i], list.Ranges[i])
		}
	}
}

func TestParseNoTokens(t *testing.T) {
	owner := ownerFixture()
	if _, err := Parse(nil, owner); err == nil {
		t.Fatal("expected error for empty token list")
	}
}

func TestParseOddTokenCount(t *testing.T) {
	owner := ownerFixture()
	if _, err := Parse([]string{"0", "1", "2"}, owner); err == nil {
		t.Fatal("expected syntax error for odd token count")
	}
}

func TestParseNonInteger(t *testing.T) {
	owner := ownerFixture()
	if _, err := Parse([]string{"0", "xyz"}, owner); err == nil {
		t.Fatal("expected syntax error for non-integer token")
	}
}

func TestParseStartAfterEnd(t *testing.T) {
	owner := ownerFixture()
	if _, err := Parse([]string{"10", "5"}, owner); err == nil {
		t.Fatal("expected range error for start > end")
	}
}

func TestParseOverlap(t *testing.T) {
	owner := ownerFixture()
	if _, err := Parse([]string{"0", "10", "5", "15"}, owner); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestParseSpansMultipleShards(t *testing.T) {
	owner := ownerFixture()
	if _, err := Parse([]string{"90", "110"}, owner); err == nil {
		t.Fatal("expected span error for a range crossing ownership boundaries")
	}
}

func TestParseSlotsNotServed(t *testing.T) {
	owner := ownerFixture()
	if _, err := Parse([]string{"500", "501"}, owner); err == nil {
		t.Fatal("expected error for unserved slots")
	}
}

func TestParseDifferentOwnersAcrossClauses(t *testing.T) {
	owner := ownerFixture()
	if _, err := Parse([]string{"0", "10", "100", "110"}, owner); err == nil {
		t.Fatal("expected error mixing ranges owned by different nodes in one list")
	}
}

func TestContains(t *testing.T) {
	owner := ownerFixture()
	list, err := Parse([]string{"0", "9", "20", "29"}, owner)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !list.Contains(5) || !list.Contains(25) {
		t.Fatal("Contains should report true for slots within ranges")
	}
	if list.Contains(15) {
		t.Fatal("Contains should report false for slots between ranges")
	}
}
