//go:build !windows

package hostline

// terminator is the line-terminator byte sequence on unix-like systems.
var terminator = []byte{'\n'}
