// Package transport provides the non-blocking session/connection
// primitive spec §6 names as a collaborator of the migration core: async
// read/write callback registration over a net.Conn, plus the AUTH
// handshake helper the export/import state machines drive through
// SEND_AUTH/READ_AUTH.
package transport

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/hanzoai/slotkv/memsys"
)

// ReadCallback is invoked on the session's read goroutine whenever a line
// arrives; WriteDone is invoked once a prior async Write has been
// flushed. Both are delivered asynchronously -- the migration driver must
// never block waiting on them (spec §5).
type ReadCallback func(line string)
type WriteDoneCallback func(err error)

// Session wraps one control-channel TCP connection with async
// read/write, matching spec §6's "non-blocking connect, async read/write
// callbacks, authentication helper".
type Session struct {
	conn net.Conn
	r    *bufio.Reader

	mtx  sync.Mutex
	sgl  *memsys.SGL // outbound buffer; Send appends, writeLoop drains
	sent int64        // bytes already handed to conn.Write out of sgl

	writeCh chan struct{}
	done    chan struct{}

	onRead      ReadCallback
	onWriteDone WriteDoneCallback

	closed bool
}

// Dial opens a non-blocking TCP session to addr. The connect itself is
// synchronous (net.Dial with a timeout) but nothing thereafter blocks the
// caller: reads are delivered via onRead on a background goroutine.
func Dial(addr string, timeout time.Duration) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return newSession(conn), nil
}

func newSession(conn net.Conn) *Session {
	s := &Session{
		conn:    conn,
		r:       bufio.NewReader(conn),
		sgl:     memsys.NewSGL(),
		writeCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// OnRead registers the callback invoked for each inbound line; starts the
// background read loop.
func (s *Session) OnRead(cb ReadCallback) {
	s.onRead = cb
	go s.readLoop()
}

// OnWriteDone registers the callback invoked after each async Write.
func (s *Session) OnWriteDone(cb WriteDoneCallback) { s.onWriteDone = cb }

// readLoop delivers one value to onRead per inbound unit: a RESP array's
// final bulk string (the verb, for the fire-and-forget SYNCSLOTS
// subcommands of spec §4.6) when the stream is RESP-framed, else a plain
// trimmed line (the simple +OK/-ERR replies the AUTH/ESTABLISH handshake
// exchanges before switching to RESP framing).
func (s *Session) readLoop() {
	for {
		b, err := s.r.Peek(1)
		if err != nil {
			if !s.isClosed() {
				glog.V(3).Infof("transport: read loop ended: %v", err)
			}
			return
		}
		var payload string
		if b[0] == '*' {
			argv, err := readRESPArray(s.r)
			if err != nil {
				if !s.isClosed() {
					glog.V(3).Infof("transport: malformed RESP array: %v", err)
				}
				return
			}
			if len(argv) == 0 {
				continue
			}
			payload = argv[len(argv)-1]
		} else {
			line, err := s.r.ReadString('\n')
			if err != nil {
				if !s.isClosed() {
					glog.V(3).Infof("transport: read loop ended: %v", err)
				}
				return
			}
			payload = strings.TrimSpace(line)
		}
		if s.onRead != nil {
			s.onRead(payload)
		}
	}
}

// readRESPArray reads one "*N\r\n($len\r\n<data>\r\n){N}" RESP array and
// returns its bulk-string elements, the inverse of wire.RenderEstablish /
// wire.RenderFireAndForget.
func readRESPArray(r *bufio.Reader) ([]string, error) {
	head, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	head = strings.TrimSpace(head)
	if len(head) == 0 || head[0] != '*' {
		return nil, errors.Errorf("expected RESP array, got %q", head)
	}
	n, err := strconv.Atoi(head[1:])
	if err != nil {
		return nil, errors.Wrap(err, "bad RESP array length")
	}
	argv := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lenLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		lenLine = strings.TrimSpace(lenLine)
		if len(lenLine) == 0 || lenLine[0] != '$' {
			return nil, errors.Errorf("expected RESP bulk string, got %q", lenLine)
		}
		blen, err := strconv.Atoi(lenLine[1:])
		if err != nil {
			return nil, errors.Wrap(err, "bad RESP bulk length")
		}
		buf := make([]byte, blen+2) // +2 for trailing \r\n
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		argv = append(argv, string(buf[:blen]))
	}
	return argv, nil
}

// Send appends msg to the session's outbound SGL and wakes the write loop;
// it never blocks on the network (spec §5, §6 "async write"). The SGL
// absorbs bursts -- a snapshot or a run of control lines queued faster than
// the peer drains them -- without a goroutine per Send.
func (s *Session) Send(msg string) error {
	if s.isClosed() {
		return errors.New("transport: session closed")
	}
	s.mtx.Lock()
	s.sgl.Write([]byte(msg))
	s.mtx.Unlock()

	select {
	case s.writeCh <- struct{}{}:
	default:
	}
	return nil
}

// writeLoop is the session's single writer goroutine: it drains the
// outbound SGL to the wire whenever Send wakes it, resetting the SGL's
// slabs back to the shared pool once caught up.
func (s *Session) writeLoop() {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-s.writeCh:
		case <-s.done:
			return
		}

		for {
			s.mtx.Lock()
			n, rerr := s.sgl.Read(buf)
			if n == 0 {
				s.sgl.Reset()
				s.sent = 0
				s.mtx.Unlock()
				break
			}
			s.mtx.Unlock()

			_, werr := s.conn.Write(buf[:n])
			if werr == nil {
				s.mtx.Lock()
				s.sent += int64(n)
				s.mtx.Unlock()
			}
			if s.onWriteDone != nil {
				s.onWriteDone(werr)
			}
			if werr != nil {
				if !s.isClosed() {
					glog.V(3).Infof("transport: write failed: %v", werr)
				}
				return
			}
			_ = rerr
		}
	}
}

// BufferedBytes reports bytes queued in the SGL but not yet flushed to the
// wire (spec §6's `buffered_bytes(session)`); the export driver reads it
// to wait for a drained send buffer before SNAPSHOTTING.
func (s *Session) BufferedBytes() int64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.sgl.Size() - s.sent
}

func (s *Session) isClosed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.closed
}

func (s *Session) Close() error {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return nil
	}
	s.closed = true
	s.mtx.Unlock()
	close(s.done)
	return s.conn.Close()
}
