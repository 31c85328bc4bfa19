package tftp

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/manhinli/tftp/internal/tlog"
)

func TestRoleFor(t *testing.T) {
	tests := []struct {
		name     string
		isServer bool
		opcode   Opcode
		wantRole Role
	}{
		{"server RRQ reads local file to send", true, OpRRQ, RoleReaderOfLocal},
		{"server WRQ writes local file from received data", true, OpWRQ, RoleWriterOfLocal},
		{"client get (RRQ) writes local file from received data", false, OpRRQ, RoleWriterOfLocal},
		{"client put (WRQ) reads local file to send", false, OpWRQ, RoleReaderOfLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roleFor(tt.isServer, tt.opcode); got != tt.wantRole {
				t.Errorf("roleFor(%v, %v) = %v, want %v", tt.isServer, tt.opcode, got, tt.wantRole)
			}
		})
	}
}

func TestSession_ReadNextChunk(t *testing.T) {
	tests := []struct {
		name          string
		data          []byte
		wantChunks    [][]byte
		wantTerminate bool
	}{
		{
			name:          "zero byte file produces one empty terminating chunk",
			data:          []byte{},
			wantChunks:    [][]byte{{}},
			wantTerminate: true,
		},
		{
			name:          "short file produces one chunk then terminates",
			data:          bytes.Repeat([]byte{'a'}, 100),
			wantChunks:    [][]byte{bytes.Repeat([]byte{'a'}, 100)},
			wantTerminate: true,
		},
		{
			name: "exact multiple of 512 produces an extra empty terminating chunk",
			data: bytes.Repeat([]byte{'b'}, MaxDataSize),
			wantChunks: [][]byte{
				bytes.Repeat([]byte{'b'}, MaxDataSize),
				{},
			},
			wantTerminate: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{reader: bytes.NewReader(tt.data)}

			var gotTerminate bool
			for i := 0; i < len(tt.wantChunks); i++ {
				terminate, err := s.readNextChunk()
				if err != nil {
					t.Fatalf("readNextChunk() unexpected error: %v", err)
				}
				if terminate {
					gotTerminate = true
					break
				}
				if !bytes.Equal(s.fileBuffer, tt.wantChunks[i]) {
					t.Errorf("chunk %d = %q, want %q", i, s.fileBuffer, tt.wantChunks[i])
				}
			}
			if !gotTerminate {
				terminate, err := s.readNextChunk()
				if err != nil {
					t.Fatalf("readNextChunk() unexpected error: %v", err)
				}
				gotTerminate = terminate
			}
			if gotTerminate != tt.wantTerminate {
				t.Errorf("terminate = %v, want %v", gotTerminate, tt.wantTerminate)
			}
		})
	}
}

// newLoopbackSession builds a Session with a real loopback socket so
// handleACK/handleDATA exercise their actual send path instead of a stub.
func newLoopbackSession(t *testing.T) (*Session, *net.UDPConn) {
	t.Helper()

	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("could not open peer socket: %v", err)
	}
	t.Cleanup(func() { _ = peerConn.Close() })

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("could not open session socket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	s := &Session{
		conn:        conn,
		peerAddr:    peerConn.LocalAddr().(*net.UDPAddr),
		maxAttempts: 3,
		log:         tlog.New("test"),
	}
	return s, peerConn
}

func TestSession_HandleACK(t *testing.T) {
	tests := []struct {
		name         string
		currentBlock BlockNumber
		ackBlock     BlockNumber
		wantErr      error
	}{
		{"ack matching current block advances", 4, 4, nil},
		{"ack repeating the previous block retries", 4, 3, nil},
		{"ack for neither current nor previous is out of order", 4, 9, ErrOutOfOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newLoopbackSession(t)
			s.currentBlock = tt.currentBlock
			s.reader = bytes.NewReader(nil)

			err := s.handleACK(Packet{Op: OpACK, Block: tt.ackBlock})
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("handleACK() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("handleACK() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSession_HandleDATA(t *testing.T) {
	tests := []struct {
		name         string
		currentBlock BlockNumber
		dataBlock    BlockNumber
		wantErr      error
	}{
		{"data for next block in sequence is accepted", 4, 5, nil},
		{"duplicate data for current block retries the ack", 4, 4, nil},
		{"data for neither current nor next is out of order", 4, 9, ErrOutOfOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newLoopbackSession(t)
			s.currentBlock = tt.currentBlock
			s.writer = nopWriteCloser{&bytes.Buffer{}}

			err := s.handleDATA(Packet{Op: OpDATA, Block: tt.dataBlock, Data: make([]byte, 10)})
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("handleDATA() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("handleDATA() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// nopWriteCloser adapts a *bytes.Buffer to io.WriteCloser for tests that
// exercise writeAndReply without touching the filesystem.
type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

func TestSession_HandleTimeout(t *testing.T) {
	s, peerConn := newLoopbackSession(t)
	s.maxAttempts = 2
	s.lastOutgoing = []byte("resend-me")

	s.handleTimeout()
	if s.timeoutCount != 1 {
		t.Errorf("timeoutCount = %d, want 1", s.timeoutCount)
	}

	buf := make([]byte, len(s.lastOutgoing))
	_ = peerConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := peerConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected resend to reach peer: %v", err)
	}
	if !bytes.Equal(buf[:n], s.lastOutgoing) {
		t.Errorf("resent payload = %q, want %q", buf[:n], s.lastOutgoing)
	}

	s.active.Store(true)
	s.handleTimeout()
	if s.timeoutCount != 2 || s.active.Load() {
		t.Errorf("after exceeding maxAttempts, timeoutCount = %d, active = %v; want 2, false", s.timeoutCount, s.active.Load())
	}
}
