package tor

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	socksProbeTimeout   = 2 * time.Second
	controlProbeTimeout = time.Second
)

// portInUse attempts a loopback listen on port.
func portInUse(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = ln.Close()
	return false
}

// probeSocks performs a SOCKS5 method negotiation offering "no auth" and
// reports whether the server accepted it.
func probeSocks(ctx context.Context, addr string, timeout time.Duration) bool {
	conn, err := dialProbe(ctx, addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return false
	}
	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return false
	}
	return reply[0] == 0x05 && reply[1] == 0x00
}

// probeControl sends PROTOCOLINFO, which Tor answers before authentication.
func probeControl(ctx context.Context, addr string, timeout time.Duration) bool {
	conn, err := dialProbe(ctx, addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("PROTOCOLINFO 1\r\n")); err != nil {
		return false
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.HasPrefix(line, "250")
}

func dialProbe(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
