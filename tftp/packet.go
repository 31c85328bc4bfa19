package tftp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Packet is a tagged union over the five TFTP opcodes. Which fields are
// meaningful depends on Op; Encode/Decode are the only code that should
// need to know the full mapping (original_source/OutgoingPacket.java's
// mutable "section count" builder collapses into this single struct plus
// exhaustive switch, per spec.md's DESIGN NOTES).
type Packet struct {
	Op Opcode

	// RRQ / WRQ
	Filename string
	Mode     string

	// DATA / ACK
	Block BlockNumber

	// DATA
	Data []byte

	// ERROR
	ErrCode ErrCode
	ErrMsg  string
}

// Encode serialises p to its RFC 1350 wire representation. It enforces the
// same limits original_source/OutgoingPacket.java's validate() did: DATA
// payload may not exceed MaxDataSize bytes, and no encoded datagram may
// exceed MaxPacketSize bytes.
func Encode(p Packet) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, p.Op); err != nil {
		return nil, err
	}

	switch p.Op {
	case OpRRQ, OpWRQ:
		buf.WriteString(p.Filename)
		buf.WriteByte(0)
		buf.WriteString(p.Mode)
		buf.WriteByte(0)

	case OpDATA:
		if len(p.Data) > MaxDataSize {
			return nil, fmt.Errorf("%w: DATA payload of %d bytes exceeds %d", ErrIllegalBuild, len(p.Data), MaxDataSize)
		}
		if err := binary.Write(&buf, binary.BigEndian, p.Block.Value()); err != nil {
			return nil, err
		}
		buf.Write(p.Data)

	case OpACK:
		if err := binary.Write(&buf, binary.BigEndian, p.Block.Value()); err != nil {
			return nil, err
		}

	case OpERROR:
		if err := binary.Write(&buf, binary.BigEndian, uint16(p.ErrCode)); err != nil {
			return nil, err
		}
		buf.WriteString(p.ErrMsg)
		buf.WriteByte(0)

	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrIllegalBuild, p.Op)
	}

	if buf.Len() > MaxPacketSize {
		return nil, fmt.Errorf("%w: encoded packet of %d bytes exceeds %d", ErrIllegalBuild, buf.Len(), MaxPacketSize)
	}

	return buf.Bytes(), nil
}

// Decode parses a received datagram into a Packet. It is pure: the
// datagram's length, as reported by the socket read, is the only
// authoritative length used, never a fixed maximum-size assumption
// (original_source/IncomingPacket.java decodes "packetLength" from the
// DatagramPacket's actual received length for the same reason).
func Decode(raw []byte) (Packet, error) {
	if len(raw) < 4 {
		return Packet{}, ErrMalformedPacket
	}

	op := Opcode(binary.BigEndian.Uint16(raw[:2]))
	rest := raw[2:]

	switch op {
	case OpRRQ, OpWRQ:
		filename, rest, ok := cutNull(rest)
		if !ok {
			return Packet{}, fmt.Errorf("%w: missing filename terminator", ErrMalformedPacket)
		}
		mode, _, ok := cutNull(rest)
		if !ok {
			return Packet{}, fmt.Errorf("%w: missing mode terminator", ErrMalformedPacket)
		}
		return Packet{Op: op, Filename: filename, Mode: strings.ToLower(mode)}, nil

	case OpDATA:
		if len(rest) < 2 {
			return Packet{}, ErrMalformedPacket
		}
		block := BlockNumber(binary.BigEndian.Uint16(rest[:2]))
		data := append([]byte(nil), rest[2:]...)
		return Packet{Op: op, Block: block, Data: data}, nil

	case OpACK:
		if len(rest) < 2 {
			return Packet{}, ErrMalformedPacket
		}
		block := BlockNumber(binary.BigEndian.Uint16(rest[:2]))
		return Packet{Op: op, Block: block}, nil

	case OpERROR:
		if len(rest) < 2 {
			return Packet{}, ErrMalformedPacket
		}
		errCode := ErrCode(binary.BigEndian.Uint16(rest[:2]))
		msg, _, _ := cutNull(rest[2:]) // no terminator: treat remainder as the message
		return Packet{Op: op, ErrCode: errCode, ErrMsg: msg}, nil

	default:
		return Packet{}, fmt.Errorf("%w: opcode %d", ErrMalformedPacket, op)
	}
}

// cutNull splits data at the first NUL byte, returning the part before it
// (as a string), the part after it, and whether a NUL was found at all.
func cutNull(data []byte) (before string, after []byte, found bool) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), data[i+1:], true
		}
	}
	return string(data), nil, false
}
