package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

const proxyDialTimeout = 10 * time.Second

// proxyForward dials the SOCKS server itself. Its failures mean Tor is not
// reachable, as opposed to the peer being unreachable through Tor.
type proxyForward struct {
	dialer *net.Dialer
}

func (f proxyForward) Dial(network, addr string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, addr)
}

func (f proxyForward) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := f.dialer.DialContext(ctx, network, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProxyUnavailable, err)
	}
	return conn, nil
}

// newSOCKSDialer returns a SOCKS5 dialer that lets the proxy resolve host
// names, which .onion addresses require.
func newSOCKSDialer(socksAddr string) (proxy.ContextDialer, error) {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxyForward{dialer: &net.Dialer{Timeout: proxyDialTimeout}})
	if err != nil {
		return nil, fmt.Errorf("socks dialer: %w", err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks dialer does not support contexts")
	}
	return contextDialer, nil
}

func newHTTPClient(dial func(ctx context.Context, network, addr string) (net.Conn, error)) *http.Client {
	transport := &http.Transport{
		Proxy:             nil,
		DialContext:       dial,
		DisableKeepAlives: true,
	}
	return &http.Client{Transport: transport}
}

func newDirectClient() *http.Client {
	dialer := &net.Dialer{Timeout: proxyDialTimeout}
	return newHTTPClient(dialer.DialContext)
}
