// Command tftpd runs a standalone RFC 1350 TFTP server, accepting RRQ
// and WRQ requests on its welcome socket and spawning one session per
// client.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/manhinli/tftp/internal/cliargs"
	"github.com/manhinli/tftp/internal/tlog"
	"github.com/manhinli/tftp/tftp"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := tlog.New("tftpd")

	p := cliargs.New().
		RegisterInt("port", tftp.DefaultServerTID).
		RegisterInt("timeout", int(tftp.DefaultTimeout/time.Millisecond)).
		RegisterInt("attempts", tftp.DefaultMaxAttempts).
		RegisterBool("enable-error-message-delivery").
		RegisterBool("disable-block-messages")
	p.Munch(args)

	cfg := tftp.Config{
		Timeout:                    time.Duration(p.Int("timeout")) * time.Millisecond,
		MaxAttempts:                p.Int("attempts"),
		EnableErrorMessageDelivery: p.Bool("enable-error-message-delivery"),
		DisableBlockMessages:       p.Bool("disable-block-messages"),
	}

	addr := &net.UDPAddr{Port: p.Int("port")}
	srv, err := tftp.NewServer(addr, cfg)
	if err != nil {
		log.Error(fmt.Sprintf("could not start server: %v", err))
		return 1
	}
	defer srv.Close()

	if err := srv.Serve(); err != nil {
		log.Error(fmt.Sprintf("server stopped: %v", err))
		return 1
	}
	return 0
}
