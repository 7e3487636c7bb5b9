package printer

import (
	"context"
	"fmt"
	"sync"

	"github.com/thereceipt/print-station/internal/registry"
)

// NewAdapter builds the adapter for a transport kind. USB adapters use picker.
func NewAdapter(kind TransportKind, reg *registry.Registry, profile registry.Profile, picker DevicePicker, opts ...Option) (Adapter, error) {
	switch kind {
	case TransportLocal:
		return NewLocalAdapter(reg, opts...), nil
	case TransportUSB:
		return NewUSBAdapter(picker, profile, opts...), nil
	case TransportSerial:
		return NewSerialAdapter(profile, opts...), nil
	case TransportEthernet, TransportWiFi:
		return NewNetworkAdapter(kind, profile, opts...), nil
	case TransportBluetooth:
		return nil, unsupportedErr("new adapter", fmt.Errorf("%w: bluetooth transport", ErrUnsupported))
	default:
		return nil, configErr("new adapter", fmt.Errorf("unknown transport: %q", kind))
	}
}

// Pool keeps one adapter per station name
type Pool struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewPool creates an empty adapter pool
func NewPool() *Pool {
	return &Pool{
		adapters: make(map[string]Adapter),
	}
}

// Add registers an adapter under name, replacing any previous one
func (p *Pool) Add(name string, a Adapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters[name] = a
}

// Get returns the adapter registered under name
func (p *Pool) Get(name string) (Adapter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.adapters[name]
	return a, ok
}

// Names returns the registered station names
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.adapters))
	for name := range p.adapters {
		names = append(names, name)
	}
	return names
}

// Remove disconnects and forgets the adapter registered under name
func (p *Pool) Remove(ctx context.Context, name string) error {
	p.mu.Lock()
	a, ok := p.adapters[name]
	delete(p.adapters, name)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return a.Disconnect(ctx)
}

// DisconnectAll closes every adapter and empties the pool
func (p *Pool) DisconnectAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, a := range p.adapters {
		a.Disconnect(ctx)
		delete(p.adapters, name)
	}
}
