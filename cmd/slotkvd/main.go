// Package main wires the daemon together: config, cluster map,
// migration supervisor, control-channel listener, and metrics.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanzoai/slotkv/cluster"
	"github.com/hanzoai/slotkv/cmn"
	"github.com/hanzoai/slotkv/hk"
	"github.com/hanzoai/slotkv/migration"
	"github.com/hanzoai/slotkv/stats"
	"github.com/hanzoai/slotkv/store"
	"github.com/hanzoai/slotkv/transport"
)

var (
	selfID      = flag.String("id", "", "this node's cluster id")
	listenAddr  = flag.String("listen", ":7000", "control-channel listen address")
	metricsAddr = flag.String("metrics", ":9100", "prometheus metrics listen address")
	authSecret  = flag.String("auth-secret", "", "shared HMAC secret for the migration AUTH handshake")
	dataDir     = flag.String("data-dir", "", "directory for persisted cluster config; empty means in-memory only")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if *selfID == "" {
		glog.Errorf("slotkvd: -id is required")
		return 1
	}

	cmn.GCO.Put(cmn.DefaultConfig())

	owner, err := newOwner(cluster.NodeID(*selfID), *dataDir)
	if err != nil {
		glog.Errorf("slotkvd: cluster config: %v", err)
		return 1
	}
	space := store.New()
	sup := migration.NewSupervisor(owner, space)

	hk.Reg("active-expire", func() time.Duration {
		space.ExpireNow(time.Now(), 20)
		return 100 * time.Millisecond
	}, 100*time.Millisecond)

	reg := prometheus.NewRegistry()
	stats.MustRegister(reg)

	secret := []byte(*authSecret)
	if len(secret) == 0 {
		glog.Warningf("slotkvd: -auth-secret not set, using an ephemeral per-process secret")
		secret = []byte(*selfID + "-ephemeral")
	}
	auth := transport.NewAuthenticator(secret, owner.Epoch())

	ln, err := transport.Listen(*listenAddr, auth, sup)
	if err != nil {
		glog.Errorf("slotkvd: listen on %s: %v", *listenAddr, err)
		return 1
	}
	defer ln.Close()

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			glog.Errorf("slotkvd: metrics server: %v", err)
		}
	}()

	glog.Infof("slotkvd: node %s listening on %s (metrics on %s)", *selfID, *listenAddr, *metricsAddr)
	hk.Kick()
	select {}
}

func newOwner(self cluster.NodeID, dataDir string) (*cluster.LocalOwner, error) {
	if dataDir == "" {
		return cluster.NewLocalOwner(self), nil
	}
	return cluster.NewPersistentLocalOwner(self, dataDir)
}
