// Package slotrange implements the slot-range list grammar of spec §4.3:
// parsing `<start> <end>` integer pairs from operator tokens, validating
// ownership/span/overlap constraints against a cluster map, and rendering
// back to the wire form MIGRATESLOTS/ESTABLISH use.
package slotrange

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/cmn"
)

// Range is an inclusive [Start, End] slot range.
type Range struct {
	Start, End int
}

// List is a validated, non-overlapping sequence of ranges all owned by the
// same node, in the order the operator specified them.
type List struct {
	Ranges []Range
	Owner  cluster.NodeID
}

// Parse reads consecutive `<start> <end>` integer pairs from tokens until
// it runs out, enforcing spec §4.3's grammar and error taxonomy. owner is
// the cluster to validate slot ownership/span against.
func Parse(tokens []string, owner cluster.SlotOwner) (*List, error) {
	if len(tokens) == 0 {
		return nil, cmn.ErrNoSlotRanges
	}
	if len(tokens)%2 != 0 {
		return nil, errors.Wrap(errSyntax, "odd number of slot tokens")
	}

	var ranges []Range
	var nodeID cluster.NodeID
	haveNode := false

	for i := 0; i < len(tokens); i += 2 {
		start, err := strconv.Atoi(tokens[i])
		if err != nil {
			return nil, errors.Wrapf(errSyntax, "token %q is not an integer", tokens[i])
		}
		end, err := strconv.Atoi(tokens[i+1])
		if err != nil {
			return nil, errors.Wrapf(errSyntax, "token %q is not an integer", tokens[i+1])
		}
		if start > end {
			return nil, errors.Wrapf(errRange, "start %d > end %d", start, end)
		}

		rangeOwner, err := ownerOf(owner, start, end)
		if err != nil {
			return nil, err
		}
		if !haveNode {
			nodeID = rangeOwner
			haveNode = true
		} else if rangeOwner != nodeID {
			return nil, errors.Wrapf(errSpan, "range %d-%d is owned by %s, earlier ranges by %s", start, end, rangeOwner, nodeID)
		}

		next := Range{Start: start, End: end}
		for _, prev := range ranges {
			if overlaps(prev, next) {
				return nil, errors.Wrapf(cmn.ErrOverlap(renderRange(prev), renderRange(next)), "slot range %s overlaps with previous range %s", renderRange(next), renderRange(prev))
			}
		}
		ranges = append(ranges, next)
	}

	return &List{Ranges: ranges, Owner: nodeID}, nil
}

// ownerOf confirms every slot in [start,end] is served and owned by one
// node, returning ownership error / span error as appropriate.
func ownerOf(owner cluster.SlotOwner, start, end int) (cluster.NodeID, error) {
	var id cluster.NodeID
	first := true
	for slot := start; slot <= end; slot++ {
		n, ok := owner.SlotOwnerID(slot)
		if !ok {
			return "", errors.Wrapf(cmn.ErrSlotsNotServed, "slot %d", slot)
		}
		if first {
			id = n
			first = false
		} else if n != id {
			return "", errors.Wrapf(cmn.ErrSpansMultipleShards, "slots %d-%d", start, end)
		}
	}
	return id, nil
}

func overlaps(a, b Range) bool {
	return a.Start <= b.End && b.Start <= a.End
}

func renderRange(r Range) string {
	return strconv.Itoa(r.Start) + " " + strconv.Itoa(r.End)
}

// Render produces the `<start> <end> …` token sequence for l, the inverse
// of Parse (spec §8 round-trip law: parse(render(l)) == l).
func (l *List) Render() []string {
	out := make([]string, 0, len(l.Ranges)*2)
	for _, r := range l.Ranges {
		out = append(out, strconv.Itoa(r.Start), strconv.Itoa(r.End))
	}
	return out
}

// Contains reports whether slot falls within any range in l.
func (l *List) Contains(slot int) bool {
	for _, r := range l.Ranges {
		if slot >= r.Start && slot <= r.End {
			return true
		}
	}
	return false
}

var (
	errSyntax = errors.New("slot range syntax error")
	errRange  = errors.New("slot range error")
	errSpan   = cmn.ErrSpansMultipleShards
)
