// Package station drives one printer from the shared print queue
package station

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/thereceipt/print-station/internal/printer"
	"github.com/thereceipt/print-station/internal/queue"
	"github.com/thereceipt/print-station/internal/registry"
	"github.com/thereceipt/print-station/pkg/fiscalnote"
)

// Queue is the part of the print queue a station uses
type Queue interface {
	ListPending() []queue.Request
	Claim(id, station string) (queue.Lease, error)
	Renew(lease queue.Lease) (queue.Lease, error)
	Complete(lease queue.Lease, status queue.Status, reason string) error
	Subscribe(opts ...queue.SubscriptionOption) *queue.Subscription
}

// Station prints pending requests on one adapter, one at a time
type Station struct {
	name       string
	queue      Queue
	adapter    printer.Adapter
	profile    registry.Profile
	target     printer.Target
	logger     *log.Logger
	openDrawer bool
	renewEvery time.Duration

	mu sync.Mutex
}

// Option configures a Station
type Option func(*Station)

// WithLogger sets the station logger
func WithLogger(logger *log.Logger) Option {
	return func(s *Station) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOpenDrawer kicks the cash drawer after each successful print
func WithOpenDrawer(enabled bool) Option {
	return func(s *Station) {
		s.openDrawer = enabled
	}
}

// WithRenewInterval sets how often the lease is renewed while printing
func WithRenewInterval(d time.Duration) Option {
	return func(s *Station) {
		if d > 0 {
			s.renewEvery = d
		}
	}
}

// New creates a station named name
func New(name string, q Queue, adapter printer.Adapter, profile registry.Profile, target printer.Target, opts ...Option) *Station {
	s := &Station{
		name:       name,
		queue:      q,
		adapter:    adapter,
		profile:    profile,
		target:     target,
		renewEvery: 10 * time.Second,
		logger:     log.New(log.Writer(), fmt.Sprintf("[STATION %s] ", name), log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the station name
func (s *Station) Name() string {
	return s.name
}

// Adapter returns the station's transport adapter
func (s *Station) Adapter() printer.Adapter {
	return s.adapter
}

// Run subscribes to the queue, works off the backlog and then prints every
// newly submitted or released request until ctx is done
func (s *Station) Run(ctx context.Context) error {
	sub := s.queue.Subscribe(queue.WithSubscriptionName(s.name), queue.WithContext(ctx))
	defer sub.Close()

	s.logger.Printf("Station started on %s transport (%s)", s.adapter.Kind(), s.profile.Name)

	// Subscribing first means nothing submitted meanwhile is missed; duplicates
	// are filtered by Claim.
	for _, req := range s.queue.ListPending() {
		if ctx.Err() != nil {
			break
		}
		s.handle(ctx, req)
	}

	for {
		select {
		case <-ctx.Done():
			s.adapter.Disconnect(context.Background())
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				s.adapter.Disconnect(context.Background())
				return ctx.Err()
			}
			switch ev.Type {
			case queue.EventSubmitted, queue.EventReleased:
				s.handle(ctx, ev.Request)
			}
		}
	}
}

func (s *Station) handle(ctx context.Context, req queue.Request) {
	if err := s.Process(ctx, req); err != nil {
		s.logger.Printf("❌ Print request %s failed: %v", req.ID, err)
	}
}

// Process claims req and prints it. Requests held by another station or no
// longer pending are skipped without error. The lease is renewed while the
// printer is busy and the outcome is reported with it, so a station that lost
// its lease cannot close out a request another station now owns.
func (s *Station) Process(ctx context.Context, req queue.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, err := s.queue.Claim(req.ID, s.name)
	if err != nil {
		if errors.Is(err, queue.ErrAlreadyClaimed) || errors.Is(err, queue.ErrNotFound) {
			s.logger.Printf("Skipping print request %s: %v", req.ID, err)
			return nil
		}
		return fmt.Errorf("failed to claim %s: %w", req.ID, err)
	}

	s.logger.Printf("Printing request %s (note %s)", lease.RequestID, req.NoteID)

	stop := s.keepAlive(lease)
	printErr := s.print(ctx, req)
	stop()

	if printErr != nil {
		if err := s.queue.Complete(lease, queue.StatusError, printErr.Error()); err != nil {
			s.logger.Printf("Warning: failed to report error for %s: %v", req.ID, err)
		}
		return printErr
	}

	if err := s.queue.Complete(lease, queue.StatusPrinted, ""); err != nil {
		return fmt.Errorf("failed to mark %s printed: %w", req.ID, err)
	}
	s.logger.Printf("✅ Print request %s completed", req.ID)

	if s.openDrawer && s.adapter.SupportsCashDrawer() {
		if err := printer.OpenDrawer(ctx, s.adapter, s.profile); err != nil {
			s.logger.Printf("Warning: failed to open cash drawer: %v", err)
		}
	}
	return nil
}

// keepAlive renews lease until the returned stop func is called
func (s *Station) keepAlive(lease queue.Lease) (stop func()) {
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if _, err := s.queue.Renew(lease); err != nil {
					s.logger.Printf("Warning: lost lease on %s: %v", lease.RequestID, err)
					return
				}
			}
		}
	}()
	return func() {
		close(quit)
		wg.Wait()
	}
}

func (s *Station) print(ctx context.Context, req queue.Request) error {
	note, err := fiscalnote.FromPayload(req.Payload)
	if err != nil {
		return err
	}

	data, err := printer.EncodeReceipt(s.profile, note)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	if !s.adapter.IsConnected() {
		if err := s.adapter.Connect(ctx, s.target); err != nil {
			return fmt.Errorf("failed to connect to printer: %w", err)
		}
	}

	if err := s.adapter.Send(ctx, data); err != nil {
		return fmt.Errorf("failed to send to printer: %w", err)
	}
	return nil
}
