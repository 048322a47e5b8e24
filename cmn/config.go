// Package cmn provides the process-wide configuration, error vocabulary and
// small shared constants for slotkv, following the teacher's GCO (global
// config owner) pattern: a single atomically-swapped Config pointer, updated
// only via BeginUpdate/CommitUpdate so that readers never observe a
// half-written config.
package cmn

import (
	"sync"
	"time"
	"unsafe"

	"go.uber.org/atomic"

	"github.com/hanzoai/slotkv/cmn/cos"
	"github.com/hanzoai/slotkv/cmn/jsp"
)

const (
	// SlotCount is the default size of the hash-slot space (spec GLOSSARY).
	SlotCount = 16384

	// NodeIDLen is the fixed width of a NodeId / MigrationJobName (spec §3).
	NodeIDLen = 40

	// GranMin/GranMax bound VSET bucket windows (spec §4.1).
	GranMin = 16 * time.Millisecond
	GranMax = 8192 * time.Millisecond
)

type (
	// MigrationConfig holds every tunable spec §4/§5 names.
	MigrationConfig struct {
		ClusterMfTimeout     cos.Duration `json:"cluster_mf_timeout"`     // base failover-pause timeout
		ClusterMfPauseMult   int          `json:"cluster_mf_pause_mult"`  // CLUSTER_MF_PAUSE_MULT
		ClusterOperationTmo  cos.Duration `json:"cluster_operation_timeout"`
		ReplTimeout          cos.Duration `json:"repl_timeout"`           // no-interaction timeout (§4.7.1)
		MaxFailoverReplBytes int64        `json:"max_failover_repl_bytes"` // negative = unlimited (§6)
		FinishedLogCap       int          `json:"finished_log_cap"`        // §4.7 step 4
		AckInterval          cos.Duration `json:"ack_interval"`            // 1 Hz per spec §4.4
	}

	VsetConfig struct {
		VectorMax int `json:"vector_max"` // 127 per spec §4.1
		HashMin   int `json:"hash_min"`   // promote at this length
	}

	Config struct {
		Migration MigrationConfig `json:"migration"`
		Vset      VsetConfig      `json:"vset"`
	}
)

func DefaultConfig() *Config {
	return &Config{
		Migration: MigrationConfig{
			ClusterMfTimeout:     cos.Duration(5 * time.Second),
			ClusterMfPauseMult:   2,
			ClusterOperationTmo:  cos.Duration(10 * time.Second),
			ReplTimeout:          cos.Duration(60 * time.Second),
			MaxFailoverReplBytes: -1,
			FinishedLogCap:       64,
			AckInterval:          cos.Duration(time.Second),
		},
		Vset: VsetConfig{
			VectorMax: 127,
			HashMin:   128,
		},
	}
}

func (c *Config) JspOpts() jsp.Options { return jsp.Options{Checksum: true} }

///////////////////////
// globalConfigOwner //
///////////////////////

type globalConfigOwner struct {
	mtx sync.Mutex
	c   atomic.UnsafePointer
}

// GCO is the process-wide config owner; loaded once at startup, then
// accessed/updated by the supervisor, transport and admin surface.
var GCO = &globalConfigOwner{}

func init() {
	GCO.Put(DefaultConfig())
}

func (gco *globalConfigOwner) Get() *Config {
	return (*Config)(gco.c.Load())
}

func (gco *globalConfigOwner) Put(config *Config) {
	gco.c.Store(unsafe.Pointer(config))
}

func (gco *globalConfigOwner) Clone() *Config {
	config := &Config{}
	cos.CopyStruct(config, gco.Get())
	return config
}

// BeginUpdate must always be followed by CommitUpdate or DiscardUpdate.
func (gco *globalConfigOwner) BeginUpdate() *Config {
	gco.mtx.Lock()
	return gco.Clone()
}

func (gco *globalConfigOwner) CommitUpdate(config *Config) {
	gco.c.Store(unsafe.Pointer(config))
	gco.mtx.Unlock()
}

func (gco *globalConfigOwner) DiscardUpdate() {
	gco.mtx.Unlock()
}
