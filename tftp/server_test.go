package tftp

import (
	"net"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, Config{
		Timeout:     time.Second,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestServer_FindClash(t *testing.T) {
	srv := newTestServer(t)

	peerA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001}
	peerB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40002}

	req := Packet{Op: OpRRQ, Filename: "whatever", Mode: ModeOctet}
	session, err := NewServerSession(req, peerA, srv.cfg)
	if err != nil {
		t.Fatalf("NewServerSession() error: %v", err)
	}
	srv.active[session.ID()] = session

	if !srv.findClash(peerA) {
		t.Error("findClash() = false for an address matching an active session, want true")
	}
	if srv.findClash(peerB) {
		t.Error("findClash() = true for a distinct address, want false")
	}
}

func TestServer_GcFinished_RemovesInactiveSessions(t *testing.T) {
	srv := newTestServer(t)

	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40003}
	req := Packet{Op: OpRRQ, Filename: "whatever", Mode: ModeOctet}
	session, err := NewServerSession(req, peer, srv.cfg)
	if err != nil {
		t.Fatalf("NewServerSession() error: %v", err)
	}
	srv.active[session.ID()] = session

	srv.gcFinished()
	if len(srv.active) != 1 {
		t.Fatalf("active sessions after gc = %d, want 1 (session is still marked active)", len(srv.active))
	}

	session.active.Store(false)
	srv.gcFinished()
	if len(srv.active) != 0 {
		t.Errorf("active sessions after gc = %d, want 0 (session was inactive)", len(srv.active))
	}
}

func TestServer_HandleRequest_RejectsNonRequestOpcodes(t *testing.T) {
	srv := newTestServer(t)
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40004}

	srv.handleRequest(Packet{Op: OpDATA, Block: 1, Data: []byte("x")}, from)

	if len(srv.active) != 0 {
		t.Errorf("active sessions after a non-request opcode = %d, want 0", len(srv.active))
	}
}
