package printer

import (
	"context"
	"log"
	"sort"
	"time"
)

// StatusChange reports a pooled adapter whose connection state flipped
type StatusChange struct {
	Name      string
	Connected bool
	LastError string
}

// Monitor polls a pool and reports connection changes
type Monitor struct {
	pool     *Pool
	interval time.Duration
	logger   *log.Logger
	onChange func(StatusChange)

	previous map[string]bool
}

// NewMonitor creates a monitor over pool. onChange may be nil.
func NewMonitor(pool *Pool, interval time.Duration, onChange func(StatusChange)) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{
		pool:     pool,
		interval: interval,
		logger:   log.Default(),
		onChange: onChange,
		previous: make(map[string]bool),
	}
}

// SetLogger replaces the monitor logger
func (m *Monitor) SetLogger(logger *log.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Run polls until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check compares the pool against the last poll and returns what changed
func (m *Monitor) Check() []StatusChange {
	names := m.pool.Names()
	sort.Strings(names)

	var changes []StatusChange
	current := make(map[string]bool, len(names))
	for _, name := range names {
		a, ok := m.pool.Get(name)
		if !ok {
			continue
		}
		connected := a.IsConnected()
		current[name] = connected

		if was, seen := m.previous[name]; seen && was == connected {
			continue
		}
		changes = append(changes, StatusChange{Name: name, Connected: connected, LastError: a.LastError()})
	}

	// Removed adapters count as disconnected
	for name, was := range m.previous {
		if _, ok := current[name]; !ok && was {
			changes = append(changes, StatusChange{Name: name})
		}
	}
	m.previous = current

	for _, c := range changes {
		if c.Connected {
			m.logger.Printf("🟢 Printer connected: %s", c.Name)
		} else if c.LastError != "" {
			m.logger.Printf("🔴 Printer disconnected: %s (%s)", c.Name, c.LastError)
		} else {
			m.logger.Printf("🔴 Printer disconnected: %s", c.Name)
		}
		if m.onChange != nil {
			m.onChange(c)
		}
	}
	return changes
}
