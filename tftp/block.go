package tftp

// BlockNumber is the 16-bit unsigned block counter used in DATA/ACK
// packets. It wraps 0xFFFF -> 0x0000 on increment and is never compared
// with ordering operators: wraparound makes "<" meaningless, so only
// Equals and IsInSeq exist (see original_source/BlockNumber.java).
type BlockNumber uint16

// Value returns the raw 16-bit value.
func (b BlockNumber) Value() uint16 {
	return uint16(b)
}

// Increment returns b+1, wrapping at 2^16.
func (b BlockNumber) Increment() BlockNumber {
	return BlockNumber(uint16(b) + 1)
}

// Equals reports whether a and b are the same block number.
func (a BlockNumber) Equals(b BlockNumber) bool {
	return a == b
}

// IsInSeq reports whether b immediately follows a, i.e. a+1 (mod 2^16) == b.
func (a BlockNumber) IsInSeq(b BlockNumber) bool {
	return a.Increment() == b
}
