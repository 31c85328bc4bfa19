package tftp

import (
	"fmt"
	"net"

	"github.com/manhinli/tftp/internal/tlog"
)

// Server is the welcome-socket dispatcher: it accepts initial RRQ/WRQ
// datagrams on one well-known port, detects transfer-id clashes, and
// spawns one Session per accepted request (see
// original_source/Server.java's main loop, generalised from its
// ArrayList<ServerSession> into an active-sessions map owned only by this
// goroutine).
type Server struct {
	conn *net.UDPConn
	cfg  Config
	log  *tlog.Logger

	// active mirrors the teacher's ConnManager.conns map[string]*Connection,
	// keyed by the session's own netid.New() bookkeeping id rather than a
	// remote address string, since one peer address can legitimately carry
	// at most one active TID clash check at a time (see findClash).
	active map[uint32]*Session
}

// NewServer binds the welcome socket at addr (typically ":69" or
// ":<port>") and returns a Server ready to Serve.
func NewServer(addr *net.UDPAddr, cfg Config) (*Server, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr)
	return &Server{
		conn:   conn,
		cfg:    cfg,
		log:    tlog.New(fmt.Sprintf("%d", local.Port)),
		active: make(map[uint32]*Session),
	}, nil
}

// Close releases the welcome socket. In-flight sessions are untouched;
// the dispatcher never kills a session (spec §5 Cancellation).
func (srv *Server) Close() error {
	return srv.conn.Close()
}

// Serve runs the accept loop until the welcome socket errors (typically
// because Close was called).
func (srv *Server) Serve() error {
	local := srv.conn.LocalAddr().(*net.UDPAddr)
	srv.log.Info(fmt.Sprintf("Listening on port %d", local.Port))

	buf := make([]byte, MaxPacketSize)
	for {
		n, from, err := srv.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}

		pkt, err := Decode(buf[:n])
		if err != nil {
			srv.log.Warn(fmt.Sprintf("dropping malformed datagram from %s: %v", from, err))
			continue
		}

		srv.handleRequest(pkt, from)
	}
}

func (srv *Server) handleRequest(pkt Packet, from *net.UDPAddr) {
	srv.gcFinished()

	if srv.findClash(from) {
		srv.log.Warn(fmt.Sprintf("address-TID pair clashing request from '%s'; replying with ERROR", from))
		srv.replyError(from, ErrUndefined, "")
		return
	}

	if pkt.Op != OpRRQ && pkt.Op != OpWRQ {
		srv.replyError(from, ErrIllegalOp, errStrings[ErrIllegalOp])
		return
	}

	session, err := NewServerSession(pkt, from, srv.cfg)
	if err != nil {
		srv.log.Error(fmt.Sprintf("could not start session for %s: %v", from, err))
		srv.replyError(from, ErrUndefined, "")
		return
	}

	srv.active[session.ID()] = session
	// The session has already logged its own terminal error via its own
	// per-session logger by the time Run returns; the dispatcher has
	// nothing further to do with it.
	go func() { _ = session.Run() }()

	srv.log.Debug(fmt.Sprintf("%d active sessions", len(srv.active)))
}

// gcFinished removes sessions whose Active() has gone false, exactly once
// per accepted datagram (original_source/Server.java's iterator cleanup
// pass).
func (srv *Server) gcFinished() {
	for id, s := range srv.active {
		if !s.Active() {
			delete(srv.active, id)
		}
	}
}

func (srv *Server) findClash(from *net.UDPAddr) bool {
	for _, s := range srv.active {
		peer := s.PeerAddr()
		if peer != nil && peer.Port == from.Port && peer.IP.Equal(from.IP) {
			return true
		}
	}
	return false
}

func (srv *Server) replyError(to *net.UDPAddr, code ErrCode, msg string) {
	encoded, err := Encode(Packet{Op: OpERROR, ErrCode: code, ErrMsg: msg})
	if err != nil {
		srv.log.Error(fmt.Sprintf("could not build welcome-socket ERROR: %v", err))
		return
	}
	if _, err := srv.conn.WriteToUDP(encoded, to); err != nil {
		srv.log.Error(fmt.Sprintf("could not send welcome-socket ERROR: %v", err))
	}
}
