package printer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/thereceipt/print-station/internal/registry"
)

// NetworkAdapter prints to an Ethernet or Wi-Fi printer. The browser-facing
// client cannot open raw sockets, so bytes travel through a backend Proxy.
type NetworkAdapter struct {
	state
	kind    TransportKind
	profile registry.Profile
	opts    options
	host    string
	port    int
}

// NewNetworkAdapter creates a network adapter. kind is TransportEthernet or TransportWiFi.
func NewNetworkAdapter(kind TransportKind, profile registry.Profile, opts ...Option) *NetworkAdapter {
	if kind != TransportWiFi {
		kind = TransportEthernet
	}
	return &NetworkAdapter{
		kind:    kind,
		profile: profile,
		opts:    newOptions(opts),
	}
}

// Kind implements Adapter
func (a *NetworkAdapter) Kind() TransportKind {
	return a.kind
}

// Connect resolves the printer host and checks that it answers over HTTP.
// The host comes from the target, falling back to the last saved address.
func (a *NetworkAdapter) Connect(ctx context.Context, target Target) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	host := strings.TrimSpace(target.Host)
	if host == "" && a.opts.hosts != nil {
		host = a.opts.hosts.NetworkPrinterIP()
	}
	if host == "" {
		a.connected = false
		return a.record(configErr("connect network", ErrMissingHost))
	}

	port := target.Port
	if port == 0 {
		port = DefaultRawPort
	}

	if err := a.probe(ctx, host); err != nil {
		a.connected = false
		return a.record(connErr("connect network", fmt.Errorf("%w: %s: %v", ErrUnreachable, host, err)))
	}

	a.host = host
	a.port = port
	a.connected = true
	a.opts.logger.Printf("Network printer reachable at %s", host)
	return a.record(nil)
}

// probe issues an HTTP GET to the printer. Any response, whatever its status,
// means the host is up.
func (a *NetworkAdapter) probe(ctx context.Context, host string) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusPageURL(host, a.opts.probePort), nil)
	if err != nil {
		return err
	}
	resp, err := a.opts.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// statusPageURL builds the URL of the printer's web page. IPv6 literals are bracketed.
func statusPageURL(host string, port int) string {
	hostport := host
	switch {
	case port != 0:
		hostport = net.JoinHostPort(host, strconv.Itoa(port))
	case strings.Contains(host, ":"):
		hostport = "[" + host + "]"
	}
	u := url.URL{Scheme: "http", Host: hostport, Path: "/"}
	return u.String()
}

// Disconnect forgets the resolved host. Calling it again is a no-op.
func (a *NetworkAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected = false
	a.host = ""
	a.port = 0
	return a.record(nil)
}

// Send forwards data to the printer through the backend proxy
func (a *NetworkAdapter) Send(ctx context.Context, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opts.proxy == nil {
		return a.record(unsupportedErr("send", ErrBackendRequired))
	}
	if !a.connected {
		return a.record(connErr("send", ErrNotConnected))
	}

	resp, err := a.opts.proxy.Forward(ctx, ProxyRequest{
		Host: a.host,
		Port: a.port,
		Data: data,
	})
	if err != nil {
		return a.record(connErr("send", err))
	}
	if !resp.Success {
		return a.record(connErr("send", fmt.Errorf("%w: %s", ErrTransferFailed, resp.Error)))
	}
	return a.record(nil)
}

// Host returns the resolved printer host
func (a *NetworkAdapter) Host() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.host
}

// SupportsCashDrawer needs both a drawer command and a proxy to deliver it
func (a *NetworkAdapter) SupportsCashDrawer() bool {
	return a.opts.proxy != nil && a.profile.Supports(registry.DirectiveOpenDrawer)
}

// SupportsTransport implements Adapter
func (a *NetworkAdapter) SupportsTransport(kind TransportKind) bool {
	return kind == TransportEthernet || kind == TransportWiFi
}
