package printer

import (
	"context"
	"fmt"
	"io"

	"github.com/thereceipt/print-station/internal/registry"
)

// KnownVendorIDs are the USB vendors the device picker offers by default
var KnownVendorIDs = []uint16{
	0x04B8, // Epson
	0x0519, // Star Micronics
	0x20D1, // Elgin
	0x0B1B, // Bematech
	0x1EAB, // Daruma
	0x0DD4, // Custom
	0x154F, // SNBC
	0x0416, // Winbond based generics
	0x0483, // STMicro based generics
}

// Printer USB configuration and interface the adapter claims
const (
	usbConfig    = 1
	usbInterface = 0
)

// DevicePicker asks the operator to choose a device among those matching vendors.
// It returns ErrNoDeviceSelected when the choice is cancelled.
type DevicePicker interface {
	Pick(ctx context.Context, vendors []uint16) (USBDevice, error)
}

// USBDevice is an opened USB device
type USBDevice interface {
	Claim(config, iface int) (USBInterface, error)
	Description() string
	Close() error
}

// USBInterface is a claimed USB interface
type USBInterface interface {
	// FirstOutEndpoint returns the OUT endpoint with the lowest number
	FirstOutEndpoint() (io.Writer, error)
	Release() error
}

// USBAdapter prints over a native USB bulk endpoint
type USBAdapter struct {
	state
	picker   DevicePicker
	profile  registry.Profile
	opts     options
	device   USBDevice
	iface    USBInterface
	endpoint io.Writer
}

// NewUSBAdapter creates a USB adapter for the given profile
func NewUSBAdapter(picker DevicePicker, profile registry.Profile, opts ...Option) *USBAdapter {
	o := newOptions(opts)
	if len(o.vendors) == 0 {
		o.vendors = KnownVendorIDs
	}
	return &USBAdapter{
		picker:  picker,
		profile: profile,
		opts:    o,
	}
}

// Kind implements Adapter
func (a *USBAdapter) Kind() TransportKind {
	return TransportUSB
}

// Connect asks the picker for a device, then claims the printer interface and
// its first OUT endpoint. A cancelled choice leaves the adapter disconnected.
func (a *USBAdapter) Connect(ctx context.Context, target Target) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return a.record(nil)
	}
	if a.picker == nil {
		return a.record(configErr("connect usb", fmt.Errorf("no device picker configured")))
	}

	dev, err := a.picker.Pick(ctx, a.opts.vendors)
	if err != nil {
		return a.record(connErr("connect usb", err))
	}
	if dev == nil {
		return a.record(connErr("connect usb", ErrNoDeviceSelected))
	}

	iface, err := dev.Claim(usbConfig, usbInterface)
	if err != nil {
		dev.Close()
		return a.record(connErr("claim usb interface", err))
	}

	ep, err := iface.FirstOutEndpoint()
	if err != nil {
		iface.Release()
		dev.Close()
		return a.record(connErr("open usb endpoint", err))
	}

	a.device = dev
	a.iface = iface
	a.endpoint = ep
	a.connected = true
	a.opts.logger.Printf("USB printer connected: %s", dev.Description())
	return a.record(nil)
}

// Disconnect releases the interface and closes the device. Calling it on a
// disconnected adapter is a no-op.
func (a *USBAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}

	var firstErr error
	if a.iface != nil {
		if err := a.iface.Release(); err != nil {
			firstErr = err
		}
	}
	if a.device != nil {
		if err := a.device.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.device = nil
	a.iface = nil
	a.endpoint = nil
	a.connected = false

	if firstErr != nil {
		return a.record(connErr("disconnect usb", firstErr))
	}
	return a.record(nil)
}

// Send writes data to the OUT endpoint
func (a *USBAdapter) Send(ctx context.Context, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return a.record(connErr("send", ErrNotConnected))
	}

	n, err := a.endpoint.Write(data)
	if err != nil {
		return a.record(connErr("send", fmt.Errorf("%w: %v", ErrTransferFailed, err)))
	}
	if n != len(data) {
		return a.record(connErr("send", fmt.Errorf("%w: wrote %d of %d bytes", ErrTransferFailed, n, len(data))))
	}
	return a.record(nil)
}

// SupportsCashDrawer reports whether the profile defines a drawer kick
func (a *USBAdapter) SupportsCashDrawer() bool {
	return a.profile.Supports(registry.DirectiveOpenDrawer)
}

// SupportsTransport implements Adapter
func (a *USBAdapter) SupportsTransport(kind TransportKind) bool {
	return kind == TransportUSB
}
