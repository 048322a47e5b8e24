// Package cluster defines the slot-ownership map collaborator that the
// migration core consumes (spec §6) plus a local in-memory implementation
// used by tests and single-process deployments. Shaped after the teacher's
// Smap/Snode/Sowner: a versioned, atomically-swapped map with an explicit
// observer-registration API instead of callers polling it.
package cluster

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/hanzoai/slotkv/cmn"
	"github.com/hanzoai/slotkv/cmn/debug"
)

type (
	// NodeID is the fixed-width opaque identifier from spec §3.
	NodeID string

	// Node is a primary in the cluster (replicas are out of scope, spec §1
	// non-goals: "migration with replicas as targets").
	Node struct {
		ID        NodeID
		DirectURL string
		Primary   bool
	}

	// SlotOwner is the §6 "Cluster map" external collaborator contract the
	// migration core requires. Implementations must be safe for concurrent
	// Get(); mutation happens only through Claim/RegisterNode on the main loop.
	SlotOwner interface {
		SlotOwnerID(slot int) (NodeID, bool)
		IsSelfPrimary() bool
		SelfID() NodeID
		LookupNode(id NodeID) (*Node, bool)
		BumpEpoch() int64
		Epoch() int64
		BroadcastTopology()
		SaveAndFsyncConfig() error

		// Observer registration (spec §9 "Topology hooks"): every listener
		// registered via Listen is called synchronously, on the goroutine
		// making the change, once per ownership change.
		Listen(TopologyListener)
	}

	// TopologyListener is notified once per ownership change. It must not
	// block: the migration supervisor's listener (spec §4.7) iterates jobs
	// inline.
	TopologyListener interface {
		OnTopologyChange(m *Map)
	}

	// Map is a versioned, immutable-once-published slot ownership table,
	// the local analogue of the teacher's Smap. A new Map is built and
	// swapped in wholesale on every topology change -- readers never see a
	// partially updated owner table.
	Map struct {
		Version int64
		Owners  map[int]NodeID // slot -> owning node
		Nodes   map[NodeID]*Node
		Self    NodeID
	}
)

func NewNode(id NodeID, url string, primary bool) *Node {
	return &Node{ID: id, DirectURL: url, Primary: primary}
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("node[%s]", n.ID)
}

func (m *Map) String() string {
	if m == nil {
		return "Map <nil>"
	}
	return fmt.Sprintf("Map v%d (%d nodes, %d slots owned)", m.Version, len(m.Nodes), len(m.Owners))
}

// Clone returns a deep-enough copy for building the next version: callers
// mutate Owners/Nodes on the clone and then call LocalOwner.Publish.
func (m *Map) Clone() *Map {
	dst := &Map{Version: m.Version, Self: m.Self}
	dst.Owners = make(map[int]NodeID, len(m.Owners))
	for k, v := range m.Owners {
		dst.Owners[k] = v
	}
	dst.Nodes = make(map[NodeID]*Node, len(m.Nodes))
	for k, v := range m.Nodes {
		nc := *v
		dst.Nodes[k] = &nc
	}
	return dst
}

// Digest returns a stable hash of a NodeID, mirroring the teacher's
// Snode.Digest (xxhash over the id), used where a cheap comparable key is
// wanted instead of the full 40-byte string (e.g. log correlation, shard
// selection in tests).
func Digest(id NodeID) uint64 {
	return xxhash.ChecksumString64S(string(id), 0)
}

////////////////
// LocalOwner //
////////////////

// LocalOwner is the in-memory SlotOwner used by tests, the single-node dev
// binary, and anywhere the real cluster-gossip collaborator named in spec
// §6 hasn't been wired in. It is intentionally simple: one mutex-guarded
// *Map pointer, a listener list, and a monotonic epoch counter.
type LocalOwner struct {
	mtx       sync.Mutex
	m         *Map
	epoch     int64
	listeners []TopologyListener
	store     *configStore // nil unless opened via NewPersistentLocalOwner
}

func NewLocalOwner(self NodeID) *LocalOwner {
	return &LocalOwner{
		m: &Map{Self: self, Owners: map[int]NodeID{}, Nodes: map[NodeID]*Node{
			self: NewNode(self, "", true),
		}},
	}
}

// NewPersistentLocalOwner is NewLocalOwner plus a buntdb/jsp-backed config
// store under dir: on first boot dir is empty and the map starts blank,
// same as NewLocalOwner; on restart, the slot ownership table and node
// roster saved by a prior SaveAndFsyncConfig are rehydrated.
func NewPersistentLocalOwner(self NodeID, dir string) (*LocalOwner, error) {
	store, err := openConfigStore(dir)
	if err != nil {
		return nil, err
	}
	owners, meta, err := store.load()
	if err != nil {
		store.close()
		return nil, err
	}
	nodes := meta.Nodes
	if nodes == nil {
		nodes = map[NodeID]*Node{}
	}
	if _, ok := nodes[self]; !ok {
		nodes[self] = NewNode(self, "", true)
	}
	return &LocalOwner{
		m:     &Map{Self: self, Owners: owners, Nodes: nodes},
		epoch: meta.Epoch,
		store: store,
	}, nil
}

func (lo *LocalOwner) Get() *Map {
	lo.mtx.Lock()
	defer lo.mtx.Unlock()
	return lo.m
}

func (lo *LocalOwner) SlotOwnerID(slot int) (NodeID, bool) {
	m := lo.Get()
	id, ok := m.Owners[slot]
	return id, ok
}

func (lo *LocalOwner) IsSelfPrimary() bool {
	m := lo.Get()
	n, ok := m.Nodes[m.Self]
	return ok && n.Primary
}

func (lo *LocalOwner) SelfID() NodeID { return lo.Get().Self }

func (lo *LocalOwner) LookupNode(id NodeID) (*Node, bool) {
	m := lo.Get()
	n, ok := m.Nodes[id]
	return n, ok
}

func (lo *LocalOwner) Epoch() int64 {
	lo.mtx.Lock()
	defer lo.mtx.Unlock()
	return lo.epoch
}

// BumpEpoch increments the configuration epoch "without peer consensus"
// (spec §4.5 takeover step 1) -- the local owner is, by construction, the
// only voter.
func (lo *LocalOwner) BumpEpoch() int64 {
	lo.mtx.Lock()
	defer lo.mtx.Unlock()
	lo.epoch++
	return lo.epoch
}

func (lo *LocalOwner) BroadcastTopology() {
	// No peers in the local/dev implementation; a real collaborator would
	// gossip the new Map to every known node.
}

func (lo *LocalOwner) SaveAndFsyncConfig() error {
	if lo.store == nil {
		return nil
	}
	lo.mtx.Lock()
	m, epoch := lo.m, lo.epoch
	lo.mtx.Unlock()
	return lo.store.persist(m, epoch)
}

func (lo *LocalOwner) Listen(l TopologyListener) {
	lo.mtx.Lock()
	lo.listeners = append(lo.listeners, l)
	lo.mtx.Unlock()
}

// Claim assigns every slot in [start,end] to owner and publishes the new
// map, firing every registered TopologyListener synchronously (spec §9).
func (lo *LocalOwner) Claim(owner NodeID, start, end int) error {
	if start > end || end >= cmn.SlotCount {
		return errors.New("cluster: invalid slot range")
	}
	lo.mtx.Lock()
	next := lo.m.Clone()
	if _, ok := next.Nodes[owner]; !ok {
		lo.mtx.Unlock()
		return cmn.ErrUnknownNode(string(owner))
	}
	for s := start; s <= end; s++ {
		next.Owners[s] = owner
	}
	next.Version++
	lo.m = next
	listeners := append([]TopologyListener(nil), lo.listeners...)
	lo.mtx.Unlock()

	for _, l := range listeners {
		l.OnTopologyChange(next)
	}
	return nil
}

// RegisterNode adds a node to the map (test/dev bootstrap helper).
func (lo *LocalOwner) RegisterNode(n *Node) {
	debug.Assert(n != nil && n.ID != "")
	lo.mtx.Lock()
	next := lo.m.Clone()
	next.Nodes[n.ID] = n
	next.Version++
	lo.m = next
	lo.mtx.Unlock()
}

var _ SlotOwner = (*LocalOwner)(nil)
