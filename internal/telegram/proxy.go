package telegram

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"tg_group_relay_bot/internal/config"
)

// newProxyHTTPClient returns an HTTP client whose connections are tunnelled
// through an authenticated SOCKS5 proxy. The timeout must cover long polling.
func newProxyHTTPClient(p config.Proxy, timeout time.Duration) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", p.Address(), &proxy.Auth{
		User:     p.Login,
		Password: p.Password,
	}, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}

	transport := &http.Transport{
		DialContext:         dialContext(dialer),
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        10,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

func dialContext(dialer proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext
	}

	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
}
