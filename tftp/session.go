package tftp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/manhinli/tftp/internal/hostline"
	"github.com/manhinli/tftp/internal/netid"
	"github.com/manhinli/tftp/internal/tlog"
)

// Role describes which side of the transfer a Session's local file is on.
// It is derived once, at construction, from the request opcode and whether
// this side is a server or a client (see roleFor).
type Role int

const (
	// RoleReaderOfLocal reads the local file and sends DATA, expecting ACK.
	RoleReaderOfLocal Role = iota
	// RoleWriterOfLocal receives DATA and writes the local file, sending ACK.
	RoleWriterOfLocal
)

// roleFor mirrors the request-type arguments Client.java/Server.java pass
// to commonProcessInPacket: a server session started by RRQ, or a client
// session started by WRQ (a put), is reader-of-local; the other two
// combinations are writer-of-local.
func roleFor(isServer bool, requestOpcode Opcode) Role {
	if (isServer && requestOpcode == OpRRQ) || (!isServer && requestOpcode == OpWRQ) {
		return RoleReaderOfLocal
	}
	return RoleWriterOfLocal
}

// beginFunc performs role-specific setup: opening the local file and
// sending whatever the first outgoing datagram of this role is (or, for a
// server session, replying to the request already received).
type beginFunc func(s *Session) error

// peerBindFunc is invoked the first time a session accepts a datagram; the
// server already knows its peer from the welcome socket and uses a no-op,
// while the client rebinds to the source port of the first reply.
type peerBindFunc func(s *Session, addr *net.UDPAddr)

// Session drives one TFTP transfer end-to-end, shared by client and server
// via the two hooks above rather than a subclass hierarchy (see
// original_source/Session.java's Session/ClientSession/ServerSession and
// spec DESIGN NOTES).
type Session struct {
	id          uint32 // dispatcher bookkeeping key, see internal/netid
	role        Role
	isServer    bool
	sessionType Opcode // the RRQ/WRQ opcode this session was started with
	mode        string
	filename    string
	displayTID  string // peer-facing label used only in log lines

	targetAddr *net.UDPAddr // client: server's well-known endpoint; server: the true peer from the start
	peerAddr   *net.UDPAddr
	peerBound  bool

	conn    *net.UDPConn
	timeout time.Duration

	maxAttempts  int
	retryCount   int
	timeoutCount int

	currentBlock   BlockNumber
	fileBuffer     []byte
	fileBufferSize int // -1 marks the terminate-reading signal
	hasReadOnce    bool
	lastOutgoing   []byte

	reader io.Reader
	writer io.WriteCloser
	file   *os.File

	enableErrorMessageDelivery bool
	disableBlockMessages       bool

	active atomic.Bool

	log *tlog.Logger

	onBegin            beginFunc
	onFirstPeerBinding peerBindFunc
}

// Config carries the options both NewClientSession and NewServerSession
// read from the command line (see internal/cliargs).
type Config struct {
	Timeout                    time.Duration
	MaxAttempts                int
	EnableErrorMessageDelivery bool
	DisableBlockMessages       bool
}

// Active reports whether the session is still running. It is the single
// cross-goroutine datum the dispatcher reads; everything else about a
// Session belongs only to the goroutine running it.
func (s *Session) Active() bool {
	return s.active.Load()
}

// PeerAddr reports the session's currently bound peer endpoint, used by
// the dispatcher for TID-clash detection.
func (s *Session) PeerAddr() *net.UDPAddr {
	return s.peerAddr
}

// ID reports the session's dispatcher bookkeeping key, minted by
// internal/netid at construction.
func (s *Session) ID() uint32 {
	return s.id
}

// NewServerSession constructs a session for a just-accepted RRQ/WRQ. req
// is the already-decoded request packet; peerAddr is its source endpoint.
// The session's logger is created once its own ephemeral TID is known, at
// the start of Run. The session counts as active from construction, so the
// dispatcher's garbage collection keeps it until Run has ended it.
func NewServerSession(req Packet, peerAddr *net.UDPAddr, cfg Config) (*Session, error) {
	if req.Op != OpRRQ && req.Op != OpWRQ {
		return nil, fmt.Errorf("%w: expected RRQ or WRQ", ErrInvalidRequest)
	}

	s := &Session{
		id:                         netid.New(),
		isServer:                   true,
		sessionType:                req.Op,
		role:                       roleFor(true, req.Op),
		mode:                       req.Mode,
		filename:                   req.Filename,
		peerAddr:                   peerAddr,
		peerBound:                  true,
		timeout:                    cfg.Timeout,
		maxAttempts:                cfg.MaxAttempts,
		enableErrorMessageDelivery: cfg.EnableErrorMessageDelivery,
		disableBlockMessages:       cfg.DisableBlockMessages,
		onFirstPeerBinding:         func(*Session, *net.UDPAddr) {},
		log:                        tlog.New("-"),
	}
	s.onBegin = serverBegin
	s.active.Store(true)
	return s, nil
}

// NewClientSession constructs a session that drives a `get` (RRQ) or `put`
// (WRQ) against a remote server. targetAddr is the server's well-known
// endpoint as configured by --port; the session rebinds its working peer
// to the source of the first reply.
func NewClientSession(requestOpcode Opcode, targetAddr *net.UDPAddr, mode, localFile, remoteFile string, cfg Config) (*Session, error) {
	if requestOpcode != OpRRQ && requestOpcode != OpWRQ {
		return nil, fmt.Errorf("%w: expected RRQ or WRQ", ErrInvalidRequest)
	}

	s := &Session{
		id:                         netid.New(),
		isServer:                   false,
		sessionType:                requestOpcode,
		role:                       roleFor(false, requestOpcode),
		mode:                       strings.ToLower(mode),
		filename:                   localFile,
		targetAddr:                 targetAddr,
		peerAddr:                   targetAddr,
		timeout:                    cfg.Timeout,
		maxAttempts:                cfg.MaxAttempts,
		enableErrorMessageDelivery: cfg.EnableErrorMessageDelivery,
		disableBlockMessages:       cfg.DisableBlockMessages,
		log:                        tlog.New("-"),
	}
	s.onBegin = clientBeginFor(requestOpcode, remoteFile)
	s.onFirstPeerBinding = func(sess *Session, addr *net.UDPAddr) {
		sess.peerAddr = addr
		sess.log.Info(fmt.Sprintf("Switching to server remote port %d", addr.Port))
	}
	return s, nil
}

// serverBegin interprets the request the session was already constructed
// from and either opens the local file for reading and sends the first
// DATA block (RRQ), or opens it for writing and ACKs block 0 (WRQ).
func serverBegin(s *Session) error {
	if err := s.checkModeSupported(); err != nil {
		return err
	}

	switch s.sessionType {
	case OpRRQ:
		if err := s.openLocalForReading(); err != nil {
			return err
		}
		s.log.Info(fmt.Sprintf("Client requested read from local file '%s' with mode '%s'", s.filename, s.mode))
		return s.readAndReply(false)

	case OpWRQ:
		if err := s.openLocalForWriting(); err != nil {
			return err
		}
		s.log.Info(fmt.Sprintf("Client requested write to local file '%s' with mode '%s'", s.filename, s.mode))
		return s.sendACK("initial ACK(0)")

	default:
		return ErrInvalidRequest
	}
}

// clientBeginFor returns the begin hook for a client session: open the
// local file for the role implied by requestOpcode, then send the
// RRQ/WRQ naming remoteFile.
func clientBeginFor(requestOpcode Opcode, remoteFile string) beginFunc {
	return func(s *Session) error {
		if err := s.checkModeSupported(); err != nil {
			return err
		}

		switch requestOpcode {
		case OpRRQ: // get: client writes the remote file to local storage
			if err := s.openLocalForWriting(); err != nil {
				return err
			}
			if err := s.sendRequest(requestOpcode, remoteFile); err != nil {
				return err
			}
			s.log.Info(fmt.Sprintf("Requested read from server for remote file '%s' via mode '%s'", remoteFile, s.mode))
			return nil

		case OpWRQ: // put: client reads the local file and sends it
			if err := s.openLocalForReading(); err != nil {
				return err
			}
			if err := s.sendRequest(requestOpcode, remoteFile); err != nil {
				return err
			}
			s.log.Info(fmt.Sprintf("Requested write to server for remote file '%s' via mode '%s'", remoteFile, s.mode))
			return nil

		default:
			return ErrInvalidRequest
		}
	}
}

func (s *Session) checkModeSupported() error {
	switch s.mode {
	case ModeNetASCII, ModeOctet:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, s.mode)
	}
}

func (s *Session) openLocalForReading() error {
	f, err := os.Open(s.filename)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileMissing, err)
	}
	s.file = f
	if s.mode == ModeNetASCII {
		s.reader = newNetasciiReader(f)
	} else {
		s.reader = f
	}
	return nil
}

func (s *Session) openLocalForWriting() error {
	if _, err := os.Stat(s.filename); err == nil {
		return ErrFileAlreadyExist
	}
	f, err := os.OpenFile(s.filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileAlreadyExist, err)
	}
	s.file = f
	if s.mode == ModeNetASCII {
		s.writer = newNetasciiWriter(f, hostline.Terminator())
	} else {
		s.writer = f
	}
	return nil
}

func (s *Session) closeFiles() {
	if s.reader != nil {
		if c, ok := s.reader.(interface{ Close() error }); ok {
			_ = c.Close()
		} else if s.file != nil {
			_ = s.file.Close()
		}
		s.log.Info(fmt.Sprintf("Local read file '%s' closed", s.filename))
	}
	if s.writer != nil {
		_ = s.writer.Close()
		s.log.Info(fmt.Sprintf("Local write file '%s' closed", s.filename))
	}
}

// Run opens the session's ephemeral socket, performs role-specific setup,
// and drives the request/acknowledge loop until completion or failure.
// Every resource opened here is released before Run returns. The returned
// error is nil only on a clean transfer completion; setup failures,
// protocol faults, and exhausted retry/timeout budgets are all reported
// here rather than only logged, so a caller (Get/Put, the dispatcher) can
// tell a failed transfer from a successful one.
func (s *Session) Run() error {
	s.active.Store(true)
	defer s.end()

	if err := s.openSocket(); err != nil {
		s.log.Error(fmt.Sprintf("could not open session socket: %v", err))
		s.active.Store(false)
		return err
	}

	if err := s.onBegin(s); err != nil {
		s.handleException(err, true)
		return err
	}

	for s.active.Load() {
		pkt, from, err := s.receive()
		if err != nil {
			if errors.Is(err, errSessionTimeout) {
				if terr := s.handleTimeout(); terr != nil {
					return terr
				}
				continue
			}
			s.handleException(err, true)
			return err
		}

		if !s.peerBound {
			s.onFirstPeerBinding(s, from)
			s.peerBound = true
		} else if !from.IP.Equal(s.peerAddr.IP) || from.Port != s.peerAddr.Port {
			s.replyErrorTo(from, ErrUndefined, "")
			continue
		}

		if err := s.dispatch(pkt); err != nil {
			if errors.Is(err, ErrMaxAttempts) {
				return err
			}
			s.handleException(err, true)
			return err
		}
		s.timeoutCount = 0
	}
	return nil
}

func (s *Session) openSocket() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return err
	}
	s.conn = conn
	local := conn.LocalAddr().(*net.UDPAddr)
	s.displayTID = strconv.Itoa(local.Port)
	s.log = tlog.New(s.displayTID)
	s.log.Info(fmt.Sprintf("Local session socket opened on port %d", local.Port))
	return nil
}

func (s *Session) end() {
	s.closeFiles()
	if s.conn != nil {
		_ = s.conn.Close()
		s.log.Info("Session socket closed")
	}
	s.active.Store(false)
	netid.Release(s.id)
	s.log.Info("Session ended")
}

var errSessionTimeout = errors.New("tftp: session receive timeout")

func (s *Session) receive() (Packet, *net.UDPAddr, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	buf := make([]byte, MaxPacketSize)
	n, from, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Packet{}, nil, errSessionTimeout
		}
		return Packet{}, nil, err
	}
	pkt, err := Decode(buf[:n])
	if err != nil {
		return Packet{}, nil, err
	}
	return pkt, from, nil
}

func (s *Session) dispatch(pkt Packet) error {
	switch pkt.Op {
	case OpDATA:
		if s.role != RoleWriterOfLocal {
			return fmt.Errorf("%w: cannot accept DATA packets", ErrUnexpectedOpcode)
		}
		return s.handleDATA(pkt)

	case OpACK:
		if s.role != RoleReaderOfLocal {
			return fmt.Errorf("%w: cannot accept ACK packets", ErrUnexpectedOpcode)
		}
		return s.handleACK(pkt)

	case OpERROR:
		return s.handleERROR(pkt)

	default:
		return ErrMalformedPacket
	}
}

func (s *Session) handleACK(pkt Packet) error {
	if pkt.Block.IsInSeq(s.currentBlock) {
		return s.readAndReply(true)
	}
	if !s.currentBlock.Equals(pkt.Block) {
		return fmt.Errorf("%w", ErrOutOfOrder)
	}
	return s.readAndReply(false)
}

func (s *Session) handleDATA(pkt Packet) error {
	if s.currentBlock.Equals(pkt.Block) {
		return s.writeAndReply(pkt, true)
	}
	if !s.currentBlock.IsInSeq(pkt.Block) {
		return fmt.Errorf("%w", ErrOutOfOrder)
	}
	return s.writeAndReply(pkt, false)
}

func (s *Session) handleERROR(pkt Packet) error {
	s.log.Error(fmt.Sprintf("Sender error code %d; '%s'; terminating", pkt.ErrCode, pkt.ErrMsg))
	s.active.Store(false)
	return nil
}

// readNextChunk reads the next outgoing chunk from the local file,
// following original_source/Session.java readFile(): a genuine EOF only
// terminates the transfer once a first chunk has been produced and that
// chunk's length was not a full 512 bytes; otherwise EOF yields one more
// empty chunk so a zero-length or exact-multiple-of-512 file still emits
// its final terminating DATA block.
func (s *Session) readNextChunk() (terminate bool, err error) {
	buf := make([]byte, MaxDataSize)
	n, readErr := s.reader.Read(buf)
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return false, readErr
	}
	if n == 0 && errors.Is(readErr, io.EOF) {
		if s.hasReadOnce && s.fileBufferSize != MaxDataSize {
			s.fileBufferSize = -1
			return true, nil
		}
		n = 0
	}
	s.hasReadOnce = true
	s.fileBufferSize = n
	s.fileBuffer = buf[:n]
	return false, nil
}

func (s *Session) readAndReply(retry bool) error {
	if retry {
		s.retryCount++
		if s.retryCount > s.maxAttempts-1 {
			s.active.Store(false)
			s.log.Info("Maximum attempts reached")
			return fmt.Errorf("%w", ErrMaxAttempts)
		}
	} else {
		terminate, err := s.readNextChunk()
		if err != nil {
			return err
		}
		s.currentBlock = s.currentBlock.Increment()
		s.retryCount = 0
		if terminate {
			s.active.Store(false)
			s.log.Info("Read completed")
			return nil
		}
	}
	return s.sendDATA()
}

func (s *Session) writeAndReply(pkt Packet, retry bool) error {
	if retry {
		s.retryCount++
		if s.retryCount > s.maxAttempts-1 {
			s.active.Store(false)
			s.log.Info("Maximum attempts reached")
			return fmt.Errorf("%w", ErrMaxAttempts)
		}
	} else {
		if _, err := s.writer.Write(pkt.Data); err != nil {
			return err
		}
		s.currentBlock = s.currentBlock.Increment()
		s.retryCount = 0
	}

	if err := s.sendACK(fmt.Sprintf("ACK block %d size %d", s.currentBlock.Value(), len(pkt.Data))); err != nil {
		return err
	}

	if len(pkt.Data) < MaxDataSize {
		s.active.Store(false)
		s.log.Info("Write completed")
	}
	return nil
}

func (s *Session) sendDATA() error {
	if !s.disableBlockMessages {
		s.log.Debug(fmt.Sprintf("DATA block %d size %d", s.currentBlock.Value(), len(s.fileBuffer)))
	}
	return s.sendPacket(Packet{Op: OpDATA, Block: s.currentBlock, Data: s.fileBuffer})
}

func (s *Session) sendACK(message string) error {
	if !s.disableBlockMessages {
		s.log.Debug(message)
	}
	return s.sendPacket(Packet{Op: OpACK, Block: s.currentBlock})
}

func (s *Session) sendRequest(opcode Opcode, remoteFile string) error {
	return s.sendPacket(Packet{Op: opcode, Filename: remoteFile, Mode: s.mode})
}

func (s *Session) sendPacket(pkt Packet) error {
	encoded, err := Encode(pkt)
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDP(encoded, s.peerAddr); err != nil {
		return err
	}
	s.lastOutgoing = encoded
	return nil
}

func (s *Session) replyErrorTo(addr *net.UDPAddr, code ErrCode, msg string) {
	encoded, err := Encode(Packet{Op: OpERROR, ErrCode: code, ErrMsg: msg})
	if err != nil {
		s.log.Error(fmt.Sprintf("could not build stranger-reply ERROR: %v", err))
		return
	}
	if _, err := s.conn.WriteToUDP(encoded, addr); err != nil {
		s.log.Error(fmt.Sprintf("could not send stranger-reply ERROR: %v", err))
	}
}

func (s *Session) handleTimeout() error {
	s.timeoutCount++
	if s.timeoutCount > s.maxAttempts-1 {
		s.active.Store(false)
		s.log.Info("Maximum attempts reached")
		return fmt.Errorf("%w", ErrMaxAttempts)
	}
	s.log.Info("Packet timed out; resending")
	if s.lastOutgoing != nil {
		_, _ = s.conn.WriteToUDP(s.lastOutgoing, s.peerAddr)
	}
	return nil
}

// handleException is the session's single top-level fault handler: every
// local error from setup or the main loop that ends the session with an
// ERROR to the peer funnels through here exactly once. A failure to open
// the session socket and an exhausted retry/timeout budget end the session
// without passing through here (original_source/Session.java
// handleException).
func (s *Session) handleException(err error, send bool) {
	s.log.Error(err.Error())

	we := &wireError{Code: wireErrCode(err)}
	if s.enableErrorMessageDelivery {
		we.Msg = err.Error()
	}

	if send && s.conn != nil && s.peerAddr != nil {
		encoded, encErr := Encode(Packet{Op: OpERROR, ErrCode: we.Code, ErrMsg: we.Msg})
		if encErr != nil {
			s.log.Error(fmt.Sprintf("could not build ERROR packet: %v", encErr))
		} else if _, sendErr := s.conn.WriteToUDP(encoded, s.peerAddr); sendErr != nil {
			s.log.Error(fmt.Sprintf("could not send ERROR packet: %v", sendErr))
		} else {
			s.log.Error(we.Error())
		}
	}

	s.active.Store(false)
}
