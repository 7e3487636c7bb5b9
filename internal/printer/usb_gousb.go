package printer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/gousb"
)

// DeviceInfo describes a USB device offered to the operator
type DeviceInfo struct {
	Bus          int    `json:"bus"`
	Address      int    `json:"address"`
	Vendor       uint16 `json:"vendor_id"`
	Product      uint16 `json:"product_id"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Name         string `json:"name,omitempty"`
}

func (d DeviceInfo) String() string {
	label := d.Name
	if d.Manufacturer != "" {
		label = d.Manufacturer + " " + label
	}
	return fmt.Sprintf("%04X:%04X %s (bus %d addr %d)", d.Vendor, d.Product, label, d.Bus, d.Address)
}

// Chooser picks one of the offered devices and returns its index.
// A negative index cancels the choice.
type Chooser func(ctx context.Context, devices []DeviceInfo) (int, error)

// FirstDevice is a Chooser that always takes the first device offered
func FirstDevice(ctx context.Context, devices []DeviceInfo) (int, error) {
	if len(devices) == 0 {
		return -1, nil
	}
	return 0, nil
}

// GousbPicker enumerates devices through libusb
type GousbPicker struct {
	Choose Chooser
}

// Pick opens the devices matching vendors, lets Choose select one and closes the rest
func (p *GousbPicker) Pick(ctx context.Context, vendors []uint16) (USBDevice, error) {
	allowed := make(map[gousb.ID]bool, len(vendors))
	for _, v := range vendors {
		allowed[gousb.ID(v)] = true
	}

	usb := gousb.NewContext()

	devices, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return allowed[desc.Vendor]
	})
	if err != nil && len(devices) == 0 {
		usb.Close()
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	infos := make([]DeviceInfo, len(devices))
	for i, dev := range devices {
		infos[i] = describe(dev)
	}

	choose := p.Choose
	if choose == nil {
		choose = FirstDevice
	}
	idx, err := choose(ctx, infos)
	if err == nil && (idx < 0 || idx >= len(devices)) {
		err = ErrNoDeviceSelected
	}
	if err != nil {
		for _, dev := range devices {
			dev.Close()
		}
		usb.Close()
		return nil, err
	}

	for i, dev := range devices {
		if i != idx {
			dev.Close()
		}
	}

	return &gousbDevice{usb: usb, dev: devices[idx], info: infos[idx]}, nil
}

func describe(dev *gousb.Device) DeviceInfo {
	info := DeviceInfo{
		Bus:     dev.Desc.Bus,
		Address: dev.Desc.Address,
		Vendor:  uint16(dev.Desc.Vendor),
		Product: uint16(dev.Desc.Product),
	}
	if s, err := dev.Manufacturer(); err == nil {
		info.Manufacturer = s
	}
	if s, err := dev.Product(); err == nil {
		info.Name = s
	}
	return info
}

type gousbDevice struct {
	usb  *gousb.Context
	dev  *gousb.Device
	info DeviceInfo
	cfg  *gousb.Config
	once sync.Once
}

func (d *gousbDevice) Description() string {
	return d.info.String()
}

func (d *gousbDevice) Claim(config, iface int) (USBInterface, error) {
	// Lets libusb detach the kernel printer driver if one is bound
	d.dev.SetAutoDetach(true)

	cfg, err := d.dev.Config(config)
	if err != nil {
		return nil, fmt.Errorf("failed to select configuration %d: %w", config, err)
	}

	intf, err := cfg.Interface(iface, 0)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("failed to claim interface %d: %w", iface, err)
	}

	d.cfg = cfg
	return &gousbInterface{intf: intf}, nil
}

func (d *gousbDevice) Close() error {
	var err error
	d.once.Do(func() {
		if d.cfg != nil {
			d.cfg.Close()
		}
		err = d.dev.Close()
		d.usb.Close()
	})
	return err
}

type gousbInterface struct {
	intf *gousb.Interface
}

func (i *gousbInterface) FirstOutEndpoint() (io.Writer, error) {
	var numbers []int
	for _, ep := range i.intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionOut {
			numbers = append(numbers, ep.Number)
		}
	}
	if len(numbers) == 0 {
		return nil, ErrEndpointNotFound
	}
	sort.Ints(numbers)

	ep, err := i.intf.OutEndpoint(numbers[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointNotFound, err)
	}
	return ep, nil
}

func (i *gousbInterface) Release() error {
	i.intf.Close()
	return nil
}
