package printer

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/tarm/serial"

	"github.com/thereceipt/print-station/internal/registry"
)

// DefaultBaud is the baud rate most thermal printers ship with
const DefaultBaud = 9600

// serialGlobs are the device nodes USB-serial and RS-232 printers show up as
var serialGlobs = map[string][]string{
	"linux":  {"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS[0-9]*"},
	"darwin": {"/dev/cu.*"},
}

var serialNoise = []string{"Bluetooth", "Modem", "SPP", "debug-console", "wlan"}

// SerialPorts lists device paths on this host that may be serial printers
func SerialPorts() []string {
	return matchSerialPorts(serialGlobs[runtime.GOOS])
}

func matchSerialPorts(patterns []string) []string {
	seen := make(map[string]bool)
	ports := []string{}
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			if seen[m] || isSerialNoise(filepath.Base(m)) {
				continue
			}
			seen[m] = true
			ports = append(ports, m)
		}
	}
	sort.Strings(ports)
	return ports
}

func isSerialNoise(name string) bool {
	for _, n := range serialNoise {
		if strings.Contains(name, n) {
			return true
		}
	}
	return false
}

func openSerialPort(device string, baud int) (io.WriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name: device,
		Baud: baud,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SerialAdapter prints over an RS-232 or USB-serial port
type SerialAdapter struct {
	state
	profile registry.Profile
	opts    options
	port    io.WriteCloser
	device  string
}

// NewSerialAdapter creates a serial adapter for the given profile
func NewSerialAdapter(profile registry.Profile, opts ...Option) *SerialAdapter {
	o := newOptions(opts)
	if o.openSerial == nil {
		o.openSerial = openSerialPort
	}
	return &SerialAdapter{
		profile: profile,
		opts:    o,
	}
}

// Kind implements Adapter
func (a *SerialAdapter) Kind() TransportKind {
	return TransportSerial
}

// Connect opens target.Device at target.Baud
func (a *SerialAdapter) Connect(ctx context.Context, target Target) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return a.record(nil)
	}
	if target.Device == "" {
		return a.record(configErr("connect serial", fmt.Errorf("no serial device given")))
	}

	baud := target.Baud
	if baud == 0 {
		baud = DefaultBaud
	}

	port, err := a.opts.openSerial(target.Device, baud)
	if err != nil {
		return a.record(connErr("connect serial", fmt.Errorf("failed to open serial port: %w", err)))
	}

	a.port = port
	a.device = target.Device
	a.connected = true
	a.opts.logger.Printf("Serial printer connected on %s at %d baud", target.Device, baud)
	return a.record(nil)
}

// Disconnect closes the port. Calling it again is a no-op.
func (a *SerialAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}

	err := a.port.Close()
	a.port = nil
	a.connected = false
	if err != nil {
		return a.record(connErr("disconnect serial", err))
	}
	return a.record(nil)
}

// Send writes data to the port
func (a *SerialAdapter) Send(ctx context.Context, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return a.record(connErr("send", ErrNotConnected))
	}

	if _, err := a.port.Write(data); err != nil {
		return a.record(connErr("send", fmt.Errorf("failed to write to serial printer: %w", err)))
	}
	return a.record(nil)
}

// SupportsCashDrawer reports whether the profile defines a drawer kick
func (a *SerialAdapter) SupportsCashDrawer() bool {
	return a.profile.Supports(registry.DirectiveOpenDrawer)
}

// SupportsTransport implements Adapter
func (a *SerialAdapter) SupportsTransport(kind TransportKind) bool {
	return kind == TransportSerial
}
