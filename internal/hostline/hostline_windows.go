//go:build windows

package hostline

// terminator is the line-terminator byte sequence on Windows.
var terminator = []byte{'\r', '\n'}
