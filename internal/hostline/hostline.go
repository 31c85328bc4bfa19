// Package hostline names the one piece of NetASCII translation that
// depends on the host this program runs on: the line-terminator bytes a
// NetASCII writer emits when it sees CR+LF on the wire, equivalent to
// Java's System.getProperty("line.separator") (see
// original_source/FileWriter.java).
package hostline

// Terminator returns the host's native line-terminator byte sequence. The
// caller must not modify the returned slice.
func Terminator() []byte {
	return terminator
}
