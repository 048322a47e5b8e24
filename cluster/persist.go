package cluster

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/buntdb"

	"github.com/hanzoai/slotkv/cmn/jsp"
)

// configStore persists the slot ownership table so a restarted node can
// rehydrate its Map instead of starting from a blank slate -- the
// SaveAndFsyncConfig collaborator spec §6 names. buntdb is an embedded,
// ACID key/value store; every slot's owner is one key, which lets a
// future operator surface answer "who owns slot N" with a point lookup
// instead of scanning the in-memory map.
type configStore struct {
	db       *buntdb.DB
	metaPath string
}

func openConfigStore(dir string) (*configStore, error) {
	db, err := buntdb.Open(filepath.Join(dir, "slots.db"))
	if err != nil {
		return nil, err
	}
	return &configStore{db: db, metaPath: filepath.Join(dir, "cluster.meta")}, nil
}

func slotKey(slot int) string { return "slot:" + strconv.Itoa(slot) }

// clusterMeta is the small, infrequently-changing half of the cluster
// config -- the node roster and epoch -- saved through the teacher's jsp
// codec (checksummed) rather than as buntdb keys, the way the daemon
// saves cmn.Config.
type clusterMeta struct {
	Nodes map[NodeID]*Node
	Epoch int64
}

func (clusterMeta) JspOpts() jsp.Options { return jsp.Options{Checksum: true} }

// persist writes every owned slot of m as its own key/value pair in one
// transaction, shrinks the append-only log (the closest buntdb analogue
// of an fsync'd config file), and saves the node roster/epoch via jsp.
func (cs *configStore) persist(m *Map, epoch int64) error {
	err := cs.db.Update(func(tx *buntdb.Tx) error {
		for slot, owner := range m.Owners {
			if _, _, err := tx.Set(slotKey(slot), string(owner), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := cs.db.Shrink(); err != nil {
		return err
	}
	meta := clusterMeta{Nodes: m.Nodes, Epoch: epoch}
	return jsp.SaveMeta(cs.metaPath, meta)
}

// load rehydrates a slot->owner map and the node roster/epoch previously
// written by persist.
func (cs *configStore) load() (owners map[int]NodeID, meta clusterMeta, err error) {
	owners = map[int]NodeID{}
	err = cs.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("slot:*", func(key, val string) bool {
			n, convErr := strconv.Atoi(strings.TrimPrefix(key, "slot:"))
			if convErr != nil {
				return true
			}
			owners[n] = NodeID(val)
			return true
		})
	})
	if err != nil {
		return nil, clusterMeta{}, err
	}
	meta = clusterMeta{Nodes: map[NodeID]*Node{}}
	if _, loadErr := jsp.LoadMeta(cs.metaPath, &meta); loadErr != nil {
		// No prior metadata file is the common case on first boot.
		return owners, clusterMeta{Nodes: map[NodeID]*Node{}}, nil
	}
	return owners, meta, nil
}

func (cs *configStore) close() error { return cs.db.Close() }
