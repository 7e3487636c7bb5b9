package printer

import (
	"context"
	"fmt"

	"github.com/thereceipt/print-station/internal/registry"
)

// LocalAdapter stands in for a pre-installed OS printer driver. Connecting
// binds a profile; sending hands bytes to the spooler.
type LocalAdapter struct {
	state
	registry *registry.Registry
	profile  registry.Profile
	opts     options
}

// NewLocalAdapter creates a local driver adapter resolving profiles through reg
func NewLocalAdapter(reg *registry.Registry, opts ...Option) *LocalAdapter {
	return &LocalAdapter{
		registry: reg,
		opts:     newOptions(opts),
	}
}

// Kind implements Adapter
func (a *LocalAdapter) Kind() TransportKind {
	return TransportLocal
}

// Connect binds the adapter to the profile named by target.ProfileID
func (a *LocalAdapter) Connect(ctx context.Context, target Target) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.registry.ByID(target.ProfileID)
	if err != nil {
		return a.record(configErr("connect local driver", err))
	}

	a.profile = p
	a.connected = true
	a.opts.logger.Printf("Local driver bound to %s", p.Name)
	return a.record(nil)
}

// Disconnect unbinds the profile. Calling it again is a no-op.
func (a *LocalAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected = false
	a.profile = registry.Profile{}
	return a.record(nil)
}

// Send hands the encoded bytes to the local spooler
func (a *LocalAdapter) Send(ctx context.Context, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return a.record(connErr("send", ErrNotConnected))
	}

	a.opts.logger.Printf("Spooling %d bytes to local driver %s", len(data), a.profile.ID)
	if a.opts.spool != nil {
		if _, err := a.opts.spool.Write(data); err != nil {
			return a.record(connErr("send", fmt.Errorf("spooler rejected job: %w", err)))
		}
	}
	return a.record(nil)
}

// SupportsCashDrawer reports whether the bound profile defines a drawer kick
func (a *LocalAdapter) SupportsCashDrawer() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected && a.profile.Supports(registry.DirectiveOpenDrawer)
}

// SupportsTransport reports whether the local driver can reach the printer over kind
func (a *LocalAdapter) SupportsTransport(kind TransportKind) bool {
	if kind == TransportLocal {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected && a.profile.HasInterface(registry.Interface(kind))
}

// Profile returns the bound profile
func (a *LocalAdapter) Profile() (registry.Profile, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile, a.connected
}
