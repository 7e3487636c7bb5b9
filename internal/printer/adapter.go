// Package printer encodes ESC/POS documents and delivers them over the
// supported transports
package printer

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/thereceipt/print-station/internal/registry"
)

// TransportKind identifies the channel an adapter talks over
type TransportKind string

const (
	TransportLocal     TransportKind = "local"
	TransportUSB       TransportKind = TransportKind(registry.InterfaceUSB)
	TransportSerial    TransportKind = TransportKind(registry.InterfaceSerial)
	TransportEthernet  TransportKind = TransportKind(registry.InterfaceEthernet)
	TransportWiFi      TransportKind = TransportKind(registry.InterfaceWiFi)
	TransportBluetooth TransportKind = TransportKind(registry.InterfaceBluetooth)
)

// DefaultRawPort is the ESC/POS raw printing port
const DefaultRawPort = 9100

// Target is where an adapter should connect
type Target struct {
	ProfileID string `json:"profile_id,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Device    string `json:"device,omitempty"`
	Baud      int    `json:"baud,omitempty"`
}

// Adapter is the uniform contract every transport implements. Expected failures
// are returned as *Error values and also kept for LastError.
type Adapter interface {
	Kind() TransportKind
	Connect(ctx context.Context, target Target) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Send(ctx context.Context, data []byte) error
	SupportsCashDrawer() bool
	SupportsTransport(kind TransportKind) bool
	LastError() string
}

// HostStore supplies the last saved network printer address
type HostStore interface {
	NetworkPrinterIP() string
}

// Option configures an adapter. Options that do not apply to an adapter are ignored.
type Option func(*options)

type options struct {
	logger       *log.Logger
	spool        io.Writer
	hosts        HostStore
	proxy        Proxy
	client       *http.Client
	probePort    int
	probeTimeout time.Duration
	vendors      []uint16
	openSerial   func(device string, baud int) (io.WriteCloser, error)
}

func newOptions(opts []Option) options {
	o := options{
		logger:       log.Default(),
		probeTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{}
	}
	return o
}

// WithLogger sets the adapter logger
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSpool makes the local adapter copy sent bytes to w
func WithSpool(w io.Writer) Option {
	return func(o *options) {
		o.spool = w
	}
}

// WithHostStore falls back to the saved network printer IP when a target has no host
func WithHostStore(store HostStore) Option {
	return func(o *options) {
		o.hosts = store
	}
}

// WithProxy sets the backend that performs raw socket writes for the network adapter
func WithProxy(p Proxy) Option {
	return func(o *options) {
		o.proxy = p
	}
}

// WithHTTPClient overrides the client used for reachability probes
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithProbePort probes a specific port instead of the HTTP default
func WithProbePort(port int) Option {
	return func(o *options) {
		o.probePort = port
	}
}

// WithProbeTimeout bounds the reachability probe
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithVendorIDs narrows the USB picker to the given vendors
func WithVendorIDs(ids ...uint16) Option {
	return func(o *options) {
		o.vendors = ids
	}
}

// WithSerialOpener replaces the function used to open serial ports
func WithSerialOpener(open func(device string, baud int) (io.WriteCloser, error)) Option {
	return func(o *options) {
		o.openSerial = open
	}
}

// state is the connection bookkeeping shared by all adapters
type state struct {
	mu        sync.Mutex
	connected bool
	lastErr   string
}

func (s *state) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *state) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// record stores the outcome of an operation; callers hold mu
func (s *state) record(err error) error {
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	return err
}

// OpenDrawer kicks the cash drawer through an adapter. Profiles or transports
// without drawer support fail with an unsupported error and nothing is sent.
func OpenDrawer(ctx context.Context, a Adapter, p registry.Profile) error {
	if !a.SupportsCashDrawer() {
		return unsupportedErr("open drawer", ErrUnsupported)
	}
	data, err := Encode(p, registry.DirectiveOpenDrawer)
	if err != nil {
		return err
	}
	return a.Send(ctx, data)
}
