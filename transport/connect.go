package transport

import (
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/hanzoai/slotkv/cmn"
	"github.com/hanzoai/slotkv/migration"
	"github.com/hanzoai/slotkv/migration/wire"
)

// Dialer drives the source side of one export job's SEND_AUTH ..
// SEND_ESTABLISH sequence over a fresh Session (spec §4.4, §6).
type Dialer struct {
	Auth *Authenticator
	Self string
}

// Connect dials addr, runs the AUTH/ESTABLISH handshake for job, and on
// success wires the session's inbound lines into sup's event loop for
// the lifetime of the job. Non-blocking beyond the initial TCP connect
// itself (spec §6): every handshake step is delivered as an event to the
// job's driver rather than awaited in place.
func (d *Dialer) Connect(addr string, sup *migration.Supervisor, job *migration.Job, ranges []wire.SlotPair, timeout time.Duration) error {
	sess, err := Dial(addr, timeout)
	if err != nil {
		sup.DriveExportEvent(job.Name, migration.Event{Errored: true, ErrText: err.Error()})
		return err
	}
	job.Session = sess
	sup.DriveExportEvent(job.Name, migration.Event{Connected: true})

	tok, err := d.Auth.Issue(d.Self)
	if err != nil {
		return err
	}
	if err := sess.Send(tok + "\r\n"); err != nil {
		return err
	}
	sup.DriveExportEvent(job.Name, migration.Event{Written: true})

	sess.OnRead(func(line string) {
		onDialerLine(sess, sup, job, line, ranges, d.Self)
	})
	return nil
}

// AddrResolver maps a job's declared target node to a dialable address,
// the collaborator a real cluster-gossip implementation would back with
// its node registry.
type AddrResolver func(job *migration.Job) (string, error)

// ConnectAll dials every job concurrently (one goroutine per job, fanned
// out with errgroup the way the teacher's mpather jogger parallelizes
// independent per-target work), so a MIGRATESLOTS call with several
// clauses to distinct targets doesn't serialize their handshakes behind
// one another.
func (d *Dialer) ConnectAll(resolve AddrResolver, sup *migration.Supervisor, jobs []*migration.Job, rangesOf func(*migration.Job) []wire.SlotPair, timeout time.Duration) error {
	var g errgroup.Group
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			addr, err := resolve(j)
			if err != nil {
				sup.DriveExportEvent(j.Name, migration.Event{Errored: true, ErrText: err.Error()})
				return err
			}
			return d.Connect(addr, sup, j, rangesOf(j), timeout)
		})
	}
	return g.Wait()
}

func onDialerLine(sess *Session, sup *migration.Supervisor, job *migration.Job, line string, ranges []wire.SlotPair, self string) {
	line = strings.TrimSpace(line)
	switch job.ExState {
	case migration.ExReadAuth:
		if line == "+OK" {
			sup.DriveExportEvent(job.Name, migration.Event{AuthOK: true})
			est := wire.RenderEstablish(wire.Establish{Source: self, Name: job.Name, Ranges: ranges})
			sess.Send(est)
			sup.DriveExportEvent(job.Name, migration.Event{Written: true})
		} else {
			sup.DriveExportEvent(job.Name, migration.Event{Errored: true, ErrText: "AUTH rejected: " + line})
		}
	case migration.ExReadEstablish:
		if line == "+OK" {
			sup.DriveExportEvent(job.Name, migration.Event{EstablishOK: true})
		} else {
			sup.DriveExportEvent(job.Name, migration.Event{Errored: true, ErrText: "ESTABLISH rejected: " + line})
		}
	default:
		dispatchSteadyStateLine(sup, job.Name, line)
	}
}

// dispatchSteadyStateLine routes a post-handshake control-channel line
// (ACK, SNAPSHOT-EOF, REQUEST-PAUSE, PAUSED, REQUEST-FAILOVER,
// FAILOVER-GRANTED) to the appropriate driver event (spec §4.6).
func dispatchSteadyStateLine(sup *migration.Supervisor, name, verb string) {
	switch strings.ToUpper(strings.TrimSpace(verb)) {
	case string(wire.VerbRequestPause):
		sup.DriveExportEvent(name, migration.Event{RequestPause: true})
	case string(wire.VerbRequestFailover):
		sup.DriveExportEvent(name, migration.Event{RequestFailover: true})
	case string(wire.VerbSnapshotEOF):
		sup.DriveImportEvent(name, migration.Event{SnapshotEOF: true})
	case string(wire.VerbPaused):
		sup.DriveImportEvent(name, migration.Event{Paused: true})
	case string(wire.VerbFailoverGranted):
		sup.DriveImportEvent(name, migration.Event{FailoverGranted: true})
	case string(wire.VerbACK):
		sup.DriveEvent(name, migration.Event{AckReceived: true})
	default:
		glog.Warningf("migration %s: unknown control verb %q, failing job", name, verb)
		sup.FailJobByName(name, cmn.ErrUnknownSubcommand.Error())
	}
}
