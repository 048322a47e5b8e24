package migration

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/cmn"
	"github.com/hanzoai/slotkv/migration/wire"
	"github.com/hanzoai/slotkv/slotrange"
	"github.com/hanzoai/slotkv/stats"
)

// MigrateSpec is one `SLOTSRANGE s e … NODE <id>` clause of a MIGRATESLOTS
// command (spec §6).
type MigrateSpec struct {
	Tokens []string // the SLOTSRANGE integer pairs, pre-split
	Node   cluster.NodeID
}

// MigrateSlots implements the MIGRATESLOTS admin surface (spec §6, §4.4,
// §8 scenario 3/4): validates every clause's slot ranges up front (so that
// an overlap error in a later clause creates no job at all, scenario 4),
// then starts one EXPORT job per clause.
func (s *Supervisor) MigrateSlots(specs []MigrateSpec) ([]*Job, error) {
	if len(specs) == 0 {
		return nil, cmn.ErrNoSlotRanges
	}

	type parsed struct {
		list *slotrange.List
		node cluster.NodeID
	}
	results := make([]parsed, 0, len(specs))
	var seen []slotrange.Range

	for _, spec := range specs {
		if spec.Node == s.owner.SelfID() {
			return nil, cmn.ErrSourceIsTarget
		}
		node, ok := s.owner.LookupNode(spec.Node)
		if !ok {
			return nil, cmn.ErrUnknownNode(string(spec.Node))
		}
		if !node.Primary {
			return nil, cmn.ErrTargetNotPrimary
		}

		list, err := slotrange.Parse(spec.Tokens, s.owner)
		if err != nil {
			return nil, err
		}
		if list.Owner != s.owner.SelfID() {
			return nil, cmn.ErrSlotsNotServed
		}
		for _, r := range list.Ranges {
			for _, prior := range seen {
				if r.Start <= prior.End && prior.Start <= r.End {
					return nil, cmn.ErrOverlap(renderRangeForError(prior), renderRangeForError(r))
				}
			}
			seen = append(seen, r)
		}
		results = append(results, parsed{list: list, node: spec.Node})
	}

	now := time.Now()
	jobs := make([]*Job, 0, len(results))
	for _, r := range results {
		var raw [cmn.NodeIDLen / 2]byte
		_, _ = rand.Read(raw[:])
		name := hex.EncodeToString(raw[:])
		j := &Job{
			Name:           name,
			Op:             OpExport,
			Ranges:         r.list,
			Node:           r.node,
			ExState:        ExConnect,
			CreateTime:     now,
			LastUpdateTime: now,
		}
		s.AddJob(j)
		jobs = append(jobs, j)
		stats.JobsStarted.WithLabelValues(string(OpExport)).Inc()
	}
	return jobs, nil
}

func renderRangeForError(r slotrange.Range) string {
	return itoa(r.Start) + " " + itoa(r.End)
}

// CancelSlotMigrations implements CANCELSLOTMIGRATIONS: every in-progress
// EXPORT moves to CANCELLED synchronously (spec §5 "Cancellation").
func (s *Supervisor) CancelSlotMigrations() int {
	now := time.Now()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Op == OpExport && !j.ExState.Terminal() {
			j.ExState = ExCancelled
			j.Message = "cancelled by operator"
			j.touch(now)
			if j.Session != nil {
				j.Session.Close()
				j.Session = nil
			}
			n++
		}
	}
	return n
}

// JobInfo is one GETSLOTMIGRATIONS row (spec §6's named fields).
type JobInfo struct {
	Name           string    `json:"name"`
	Operation      string    `json:"operation"`
	SlotRanges     []string  `json:"slot_ranges"`
	Node           string    `json:"node"`
	CreateTime     time.Time `json:"create_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
	LastAckTime    time.Time `json:"last_ack_time"`
	State          string    `json:"state"`
	Message        string    `json:"message"`
}

// GetSlotMigrations implements GETSLOTMIGRATIONS.
func (s *Supervisor) GetSlotMigrations() []JobInfo {
	jobs := s.Jobs()
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		var ranges []string
		if j.Ranges != nil {
			ranges = j.Ranges.Render()
		}
		out = append(out, JobInfo{
			Name:           j.Name,
			Operation:      string(j.Op),
			SlotRanges:     ranges,
			Node:           string(j.Node),
			CreateTime:     j.CreateTime,
			LastUpdateTime: j.LastUpdateTime,
			LastAckTime:    j.LastAckTime,
			State:          j.State(),
			Message:        j.Message,
		})
	}
	return out
}

// GetSlotMigrationsJSON renders GETSLOTMIGRATIONS as the wire response
// (spec §6), using json-iterator's standard-library-compatible codec the
// way the teacher's API layer does for its own operator-facing payloads.
func (s *Supervisor) GetSlotMigrationsJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(s.GetSlotMigrations())
}

// HandleEstablish implements the target side of spec §4.6's ESTABLISH
// verb: create an import job and return the reply.
func (s *Supervisor) HandleEstablish(e wire.Establish, sess Session) (ok bool, replyErr error) {
	if !s.owner.IsSelfPrimary() {
		return false, cmn.ErrTargetNotPrimary
	}

	pairs := make([]string, 0, len(e.Ranges)*2)
	for _, p := range e.Ranges {
		pairs = append(pairs, itoa(p.Start), itoa(p.End))
	}
	list, err := slotrange.Parse(pairs, noopOwnershipCheck{})
	if err != nil {
		return false, err
	}

	if slot, conflict := s.overlapsInProgress(list); conflict {
		return false, cmn.ErrAlreadyMigrating(slot)
	}

	now := time.Now()
	j := &Job{
		Name:           e.Name,
		Op:             OpImport,
		Ranges:         list,
		Node:           cluster.NodeID(e.Source),
		ImState:        ImWaitAck,
		CreateTime:     now,
		LastUpdateTime: now,
		Session:        sess,
	}
	s.AddJob(j)
	stats.JobsStarted.WithLabelValues(string(OpImport)).Inc()
	return true, nil
}

// overlapsInProgress reports whether any slot in list is already claimed by
// a non-terminal job of either direction (spec §4.6 ESTABLISH precondition:
// "no manual import/migration in progress, no other import of these
// slots"), returning one conflicting slot for the error reply.
func (s *Supervisor) overlapsInProgress(list *slotrange.List) (slot int, conflict bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, j := range s.jobs {
		if j.Terminal() || j.Ranges == nil {
			continue
		}
		for _, r := range list.Ranges {
			for _, prior := range j.Ranges.Ranges {
				if r.Start <= prior.End && prior.Start <= r.End {
					lo := r.Start
					if prior.Start > lo {
						lo = prior.Start
					}
					return lo, true
				}
			}
		}
	}
	return 0, false
}

// noopOwnershipCheck lets an ESTABLISH's already-agreed slot ranges parse
// without re-deriving ownership locally (the source already validated
// ownership before sending ESTABLISH); every slot reports itself as
// "owned" by a placeholder so slotrange.Parse's grammar checks still run.
type noopOwnershipCheck struct{}

func (noopOwnershipCheck) SlotOwnerID(slot int) (cluster.NodeID, bool) { return "remote", true }
func (noopOwnershipCheck) IsSelfPrimary() bool                          { return false }
func (noopOwnershipCheck) SelfID() cluster.NodeID                       { return "" }
func (noopOwnershipCheck) LookupNode(cluster.NodeID) (*cluster.Node, bool) { return nil, false }
func (noopOwnershipCheck) BumpEpoch() int64                             { return 0 }
func (noopOwnershipCheck) Epoch() int64                                 { return 0 }
func (noopOwnershipCheck) BroadcastTopology()                           {}
func (noopOwnershipCheck) SaveAndFsyncConfig() error                    { return nil }
func (noopOwnershipCheck) Listen(cluster.TopologyListener)              {}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}
