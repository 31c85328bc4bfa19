package tftp

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced locally; most session faults do not need to be
// distinguishable beyond "undefined" on the wire (see wireErrCode below),
// but callers of Client/Server need to tell these apart.
var (
	ErrMalformedPacket  = errors.New("tftp: malformed packet")
	ErrIllegalBuild     = errors.New("tftp: illegal packet build")
	ErrUnsupportedMode  = errors.New("tftp: unsupported mode")
	ErrFileAlreadyExist = errors.New("tftp: file already exists")
	ErrFileMissing      = errors.New("tftp: file not found")
	ErrOutOfOrder       = errors.New("tftp: out-of-order block number")
	ErrMaxAttempts      = errors.New("tftp: maximum operation attempts reached")
	ErrUnexpectedPeer   = errors.New("tftp: datagram from unexpected peer")
	ErrUnexpectedOpcode = errors.New("tftp: cannot accept this opcode in current state")
	ErrInvalidRequest   = errors.New("tftp: invalid request")
)

// wireError is a received or locally synthesised ERROR packet's payload,
// kept distinct from the Go error interface so a session can both log a
// local fault and know what to put on the wire for it.
type wireError struct {
	Code ErrCode
	Msg  string
}

func (e *wireError) Error() string {
	return fmt.Sprintf("tftp: peer error %d: %s", e.Code, e.Msg)
}

// wireErrCode maps a local fault to the error code that should accompany
// the ERROR packet sent in response, following original_source/Session.java
// handleException: FILE_EXISTS is the one specific code recognised, every
// other local fault is reported as undefined (0).
func wireErrCode(err error) ErrCode {
	if errors.Is(err, ErrFileAlreadyExist) {
		return ErrFileExists
	}
	return ErrUndefined
}
