package network

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ResolveListenAddr turns a listen address into a dialable TCP host:port.
// Both plain "host:port" and multiaddrs such as /ip4/0.0.0.0/tcp/8080 are
// accepted.
func ResolveListenAddr(addr string) (string, error) {
	if !strings.HasPrefix(addr, "/") {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
		return addr, nil
	}

	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}

	netAddr, err := manet.ToNetAddr(ma)
	if err != nil {
		return "", fmt.Errorf("unsupported multiaddr %q: %w", addr, err)
	}

	tcpAddr, ok := netAddr.(*net.TCPAddr)
	if !ok {
		return "", fmt.Errorf("unsupported multiaddr %q: relay listens on tcp only", addr)
	}

	return tcpAddr.String(), nil
}

// JoinHostPort builds the host:port address for the host and port flags
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Multiaddr renders a bound listener address as a multiaddr for display.
// It falls back to the plain form when no conversion exists.
func Multiaddr(addr net.Addr) string {
	ma, err := manet.FromNetAddr(addr)
	if err != nil {
		return addr.String()
	}
	return ma.String()
}
