// Command tftp is a standalone RFC 1350 TFTP client: one get or put
// against a remote server, run to completion on the calling goroutine.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/manhinli/tftp/internal/cliargs"
	"github.com/manhinli/tftp/internal/tlog"
	"github.com/manhinli/tftp/tftp"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := tlog.New("tftp")

	p := cliargs.New().
		RegisterInt("port", tftp.DefaultServerTID).
		RegisterInt("timeout", int(tftp.DefaultTimeout/time.Millisecond)).
		RegisterInt("attempts", tftp.DefaultMaxAttempts).
		Register("mode", tftp.DefaultMode).
		RegisterBool("enable-error-message-delivery").
		RegisterBool("disable-block-messages")
	rest := p.Munch(args)

	if len(rest) != 4 {
		log.Error("usage: tftp [options] <host> {get|put} <source> <destination>")
		return 1
	}
	host, op, source, destination := rest[0], rest[1], rest[2], rest[3]

	targetAddr, err := resolveTarget(host, p.Int("port"))
	if err != nil {
		log.Error(fmt.Sprintf("could not resolve %q: %v", host, err))
		return 1
	}

	cfg := tftp.Config{
		Timeout:                    time.Duration(p.Int("timeout")) * time.Millisecond,
		MaxAttempts:                p.Int("attempts"),
		EnableErrorMessageDelivery: p.Bool("enable-error-message-delivery"),
		DisableBlockMessages:       p.Bool("disable-block-messages"),
	}
	mode := p.String("mode")

	switch op {
	case "get":
		err = tftp.Get(targetAddr, mode, source, destination, cfg)
	case "put":
		err = tftp.Put(targetAddr, mode, source, destination, cfg)
	default:
		log.Error(fmt.Sprintf("unknown operation %q, expected get or put", op))
		return 1
	}

	if err != nil {
		log.Error(fmt.Sprintf("%s failed: %v", op, err))
		return 1
	}
	return 0
}

// resolveTarget accepts either "host" or "host:port" in the host
// positional, falling back to --port when no port is embedded.
func resolveTarget(host string, defaultPort int) (*net.UDPAddr, error) {
	if h, portStr, err := net.SplitHostPort(host); err == nil {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}
		host, defaultPort = h, port
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ips[0], Port: defaultPort}, nil
}
