package api

import (
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/securelog/entries-api/internal/metrics"
	"github.com/securelog/entries-api/internal/protocol"
)

// streamConn serializes outbound frames on one status stream.
type streamConn struct {
	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *streamConn) write(msgType string, payload any) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

// streamStatus upgrades to a websocket and pushes the caller's status every
// StreamInterval while it is blocked or cooling down. It sends a final
// "done" frame and closes once the status turns inactive, or stops early
// when the client disconnects.
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	id := ClientIP(r)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[stream] upgrade failed client=%s: %v", id, err)
		return
	}
	defer conn.Close()

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	sc := &streamConn{conn: conn, writeTimeout: s.cfg.WriteTimeout}
	closed := make(chan struct{})
	go s.readStream(sc, closed)

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	for {
		st := s.gate.Status(id)
		if !st.Active {
			if err := sc.write(protocol.TypeDone, protocol.DoneMsg{}); err != nil {
				log.Printf("[stream] write done client=%s: %v", id, err)
			}
			return
		}

		msg := protocol.NewStatusMsg(statusBody(st), st.Until)
		if err := sc.write(protocol.TypeStatus, msg); err != nil {
			log.Printf("[stream] write status client=%s: %v", id, err)
			return
		}

		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

// readStream answers client pings and closes closed when the client goes
// away. Control frames are answered under the write lock so their replies
// never interleave with a status frame.
func (s *Server) readStream(sc *streamConn, closed chan<- struct{}) {
	defer close(closed)

	control := wsutil.ControlFrameHandler(sc.conn, ws.StateServerSide)
	handleControl := func(hdr ws.Header, r io.Reader) error {
		sc.writeMu.Lock()
		defer sc.writeMu.Unlock()
		_ = sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout))
		return control(hdr, r)
	}
	rd := &wsutil.Reader{
		Source:         sc.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: handleControl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if err := handleControl(hdr, rd); err != nil {
				return
			}
			continue
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			return
		}

		msgType, _, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = sc.write(protocol.TypeError, protocol.ErrorMsg{Code: "invalid_message", Message: err.Error()})
			continue
		}
		if msgType == protocol.TypePing {
			_ = sc.write(protocol.TypePong, struct{}{})
		}
	}
}
