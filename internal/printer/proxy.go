package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultDialTimeout bounds the raw socket connect on the proxy side
const DefaultDialTimeout = 5 * time.Second

// ProxyRequest asks the backend to write Data to host:port. Data is base64 on the wire.
type ProxyRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Data []byte `json:"data"`
}

// ProxyResponse is the backend's answer
type ProxyResponse struct {
	Success      bool   `json:"success"`
	BytesWritten int    `json:"bytes_written,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Proxy forwards raw print data to a network printer
type Proxy interface {
	Forward(ctx context.Context, req ProxyRequest) (ProxyResponse, error)
}

// HTTPProxy calls the backend proxy endpoint over HTTP
type HTTPProxy struct {
	URL    string
	Client *http.Client
}

// NewHTTPProxy creates a proxy client for the endpoint at url
func NewHTTPProxy(url string) *HTTPProxy {
	return &HTTPProxy{URL: url}
}

// Forward posts req to the proxy endpoint. Failure responses are returned
// without an error so the caller can report the backend message.
func (p *HTTPProxy) Forward(ctx context.Context, req ProxyRequest) (ProxyResponse, error) {
	var out ProxyResponse

	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("failed to encode proxy request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("failed to build proxy request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("proxy unavailable: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("invalid proxy response (status %d): %w", resp.StatusCode, err)
	}
	if !out.Success && out.Error == "" {
		out.Error = fmt.Sprintf("proxy returned status %d", resp.StatusCode)
	}
	return out, nil
}

// DirectProxy writes to the printer socket from this process
type DirectProxy struct {
	DialTimeout time.Duration
}

// Forward implements Proxy. Socket failures are reported in the response.
func (p DirectProxy) Forward(ctx context.Context, req ProxyRequest) (ProxyResponse, error) {
	n, err := ForwardRaw(ctx, req, p.DialTimeout)
	if err != nil {
		return ProxyResponse{BytesWritten: n, Error: err.Error()}, nil
	}
	return ProxyResponse{Success: true, BytesWritten: n}, nil
}

// ProxyPolicy limits where the proxy endpoint may write. An empty Hosts list
// allows any host; Ports always applies and defaults to DefaultRawPort.
type ProxyPolicy struct {
	Ports []int
	Hosts []string
}

// Allow reports whether req may be forwarded
func (p ProxyPolicy) Allow(req ProxyRequest) error {
	port := req.Port
	if port == 0 {
		port = DefaultRawPort
	}
	ports := p.Ports
	if len(ports) == 0 {
		ports = []int{DefaultRawPort}
	}
	if !containsPort(ports, port) {
		return configErr("proxy", fmt.Errorf("%w: %d", ErrPortNotAllowed, port))
	}

	if len(p.Hosts) == 0 {
		return nil
	}
	host := strings.TrimSpace(req.Host)
	for _, h := range p.Hosts {
		if strings.EqualFold(h, host) {
			return nil
		}
	}
	return configErr("proxy", fmt.Errorf("%w: %s", ErrHostNotAllowed, host))
}

func containsPort(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// ForwardRaw is the server side of the proxy: it opens a TCP connection to the
// printer and writes the payload
func ForwardRaw(ctx context.Context, req ProxyRequest, dialTimeout time.Duration) (int, error) {
	if strings.TrimSpace(req.Host) == "" {
		return 0, ErrMissingHost
	}
	port := req.Port
	if port == 0 {
		port = DefaultRawPort
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	address := net.JoinHostPort(req.Host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to network printer: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}

	n, err := conn.Write(req.Data)
	if err != nil {
		return n, fmt.Errorf("failed to write to network printer: %w", err)
	}
	return n, nil
}
