package transport

import (
	"net"
	"strings"

	"github.com/golang/glog"

	"github.com/hanzoai/slotkv/migration"
	"github.com/hanzoai/slotkv/migration/wire"
)

// Listener accepts inbound control-channel connections and runs the
// target side of the AUTH/ESTABLISH handshake before handing the session
// to the Supervisor (spec §4.5, §4.6).
type Listener struct {
	Auth *Authenticator
	Sup  *migration.Supervisor

	ln net.Listener
}

func Listen(addr string, auth *Authenticator, sup *migration.Supervisor) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{Auth: auth, Sup: sup, ln: ln}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) Close() error { return l.ln.Close() }

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			glog.V(3).Infof("transport: accept loop ended: %v", err)
			return
		}
		sess := newSession(conn)
		go l.handshake(sess)
	}
}

// handshake blocks on this connection's private goroutine only (never the
// accept loop): read the AUTH token, reply, read ESTABLISH, hand the
// session to the Supervisor, then switch to async steady-state dispatch.
func (l *Listener) handshake(sess *Session) {
	tokLine, err := sess.r.ReadString('\n')
	if err != nil {
		sess.Close()
		return
	}
	if _, err := l.Auth.Verify(strings.TrimSpace(tokLine)); err != nil {
		sess.Send("-ERR " + err.Error() + "\r\n")
		sess.Close()
		return
	}
	sess.Send("+OK\r\n")

	argv, err := readRESPArray(sess.r)
	if err != nil || len(argv) < 3 {
		sess.Close()
		return
	}
	// argv[0]=="CLUSTER", argv[1]=="SYNCSLOTS", argv[2]=="ESTABLISH", rest
	// are the ESTABLISH subcommand's own arguments (wire.ParseEstablish
	// expects argv[0]=="ESTABLISH").
	e, ok := wire.ParseEstablish(argv[2:])
	if !ok {
		sess.Send("-ERR malformed ESTABLISH\r\n")
		sess.Close()
		return
	}

	if accepted, err := l.Sup.HandleEstablish(e, sess); !accepted {
		msg := "ESTABLISH rejected"
		if err != nil {
			msg = err.Error()
		}
		sess.Send("-ERR " + msg + "\r\n")
		sess.Close()
		return
	}
	sess.Send("+OK\r\n")

	sess.OnRead(func(line string) {
		dispatchSteadyStateLine(l.Sup, e.Name, line)
	})
}
