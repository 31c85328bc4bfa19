package tftp

import (
	"fmt"
	"net"
	"os"
)

// Get runs a client RRQ session: fetch remoteFile from the server at
// targetAddr, writing it to localFile. localFile must not already exist
// (original_source/Client.java get() refuses to overwrite).
func Get(targetAddr *net.UDPAddr, mode, remoteFile, localFile string, cfg Config) error {
	if _, err := os.Stat(localFile); err == nil {
		return fmt.Errorf("%w: %q", ErrFileAlreadyExist, localFile)
	} else if !os.IsNotExist(err) {
		return err
	}

	session, err := NewClientSession(OpRRQ, targetAddr, mode, localFile, remoteFile, cfg)
	if err != nil {
		return err
	}
	return session.Run()
}

// Put runs a client WRQ session: send localFile to the server at
// targetAddr, storing it as remoteFile. localFile must exist.
func Put(targetAddr *net.UDPAddr, mode, localFile, remoteFile string, cfg Config) error {
	if _, err := os.Stat(localFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrFileMissing, localFile)
		}
		return err
	}

	session, err := NewClientSession(OpWRQ, targetAddr, mode, localFile, remoteFile, cfg)
	if err != nil {
		return err
	}
	return session.Run()
}
