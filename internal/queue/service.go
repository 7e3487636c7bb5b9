// Package queue holds pending print requests and notifies stations about them
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("print request not found")
	ErrAlreadyClaimed = errors.New("print request already claimed")
	ErrLeaseNotHeld   = errors.New("lease is not held")
)

// Recorder stores requests that reached a terminal state
type Recorder interface {
	Record(req Request) error
}

// Stats is a point-in-time summary of the queue
type Stats struct {
	Pending     int `json:"pending"`
	Claimed     int `json:"claimed"`
	History     int `json:"history"`
	Subscribers int `json:"subscribers"`
}

type entry struct {
	req   Request
	token string
}

// Service is an in-memory print queue. The zero value is not usable; call New.
type Service struct {
	logger        *log.Logger
	now           func() time.Time
	leaseTTL      time.Duration
	sweepInterval time.Duration
	recorder      Recorder
	historyLimit  int

	mu      sync.Mutex
	pending []*entry
	index   map[string]*entry
	history []Request
	subs    map[uint64]*Subscription
	nextSub uint64

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the queue logger
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLeaseTTL sets how long a claim is held without a terminal report
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

// WithSweepInterval sets how often Run looks for expired leases
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithRecorder stores terminal requests outside the process
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithHistoryLimit bounds the number of terminal requests kept in memory
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.historyLimit = n
		}
	}
}

// New creates an empty queue
func New(opts ...Option) *Service {
	s := &Service{
		logger:        log.New(log.Writer(), "[QUEUE] ", log.LstdFlags),
		now:           time.Now,
		leaseTTL:      30 * time.Second,
		sweepInterval: time.Second,
		historyLimit:  500,
		index:         make(map[string]*entry),
		subs:          make(map[uint64]*Subscription),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit adds a pending request and notifies every subscriber before returning.
// It always accepts the request.
func (s *Service) Submit(payload map[string]interface{}, noteID string) Request {
	req := Request{
		ID:        uuid.NewString(),
		NoteID:    noteID,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	req = req.clone()

	s.mu.Lock()
	e := &entry{req: req}
	s.pending = append(s.pending, e)
	s.index[req.ID] = e
	snapshot := req.clone()
	s.publishLocked(EventSubmitted, snapshot)
	s.mu.Unlock()

	s.logger.Printf("Print request %s submitted for note %s", req.ID, noteID)
	return snapshot
}

// ListPending returns the pending requests, oldest first
func (s *Service) ListPending() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Request, len(s.pending))
	for i, e := range s.pending {
		out[i] = e.req.clone()
	}
	return out
}

// Get returns a pending or recently finished request
func (s *Service) Get(id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.index[id]; ok {
		return e.req.clone(), nil
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == id {
			return s.history[i].clone(), nil
		}
	}
	return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// History returns recent terminal requests, newest last
func (s *Service) History() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Request, len(s.history))
	for i, r := range s.history {
		out[i] = r.clone()
	}
	return out
}

// MarkPrinted moves a pending request to printed regardless of any lease
func (s *Service) MarkPrinted(id string) error {
	return s.finish(id, StatusPrinted, "", "")
}

// MarkError moves a pending request to error, recording reason
func (s *Service) MarkError(id, reason string) error {
	return s.finish(id, StatusError, reason, "")
}

// Complete finishes a request on behalf of the lease holder. Once the lease
// was released, swept or taken by another station it returns ErrLeaseNotHeld
// and the request is left alone.
func (s *Service) Complete(lease Lease, status Status, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot complete %s with status %q", lease.RequestID, status)
	}
	if lease.Token == "" {
		return fmt.Errorf("%w: %s", ErrLeaseNotHeld, lease.RequestID)
	}
	return s.finish(lease.RequestID, status, reason, lease.Token)
}

// finish moves id to history. A non-empty token must match the current lease.
func (s *Service) finish(id string, status Status, reason, token string) error {
	s.mu.Lock()
	e, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if token != "" && e.token != token {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLeaseNotHeld, id)
	}

	now := s.now()
	req := e.req
	req.Status = status
	switch status {
	case StatusPrinted:
		req.PrintedAt = &now
	case StatusError:
		req.ErrorAt = &now
		req.ErrorMessage = reason
	}
	req.LeaseExpiresAt = nil

	s.removeLocked(id)
	s.history = append(s.history, req)
	if len(s.history) > s.historyLimit {
		s.history = append([]Request(nil), s.history[len(s.history)-s.historyLimit:]...)
	}

	evType := EventPrinted
	if status == StatusError {
		evType = EventFailed
	}
	snapshot := req.clone()
	s.publishLocked(evType, snapshot)
	s.mu.Unlock()

	if status == StatusPrinted {
		s.logger.Printf("Print request %s printed", id)
	} else {
		s.logger.Printf("Print request %s failed: %s", id, reason)
	}

	if s.recorder != nil {
		if err := s.recorder.Record(snapshot); err != nil {
			s.logger.Printf("Warning: failed to record request %s: %v", id, err)
		}
	}
	return nil
}

// Claim grants station an exclusive lease on a pending request. A request
// whose lease has expired can be claimed again.
func (s *Service) Claim(id, station string) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[id]
	if !ok {
		return Lease{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := s.now()
	if e.req.Claimed(now) {
		return Lease{}, fmt.Errorf("%w: %s by %s", ErrAlreadyClaimed, id, e.req.ClaimedBy)
	}

	expires := now.Add(s.leaseTTL)
	e.token = uuid.NewString()
	e.req.ClaimedBy = station
	e.req.LeaseExpiresAt = &expires

	return Lease{
		RequestID: id,
		Station:   station,
		Token:     e.token,
		ExpiresAt: expires,
	}, nil
}

// Release gives up a lease and makes the request claimable again
func (s *Service) Release(lease Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[lease.RequestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, lease.RequestID)
	}
	if e.token == "" || e.token != lease.Token {
		return fmt.Errorf("%w: %s", ErrLeaseNotHeld, lease.RequestID)
	}

	s.unclaimLocked(e)
	return nil
}

// Renew pushes a held lease out by the lease TTL. A lease that already lapsed
// can still be renewed as long as nobody else claimed the request.
func (s *Service) Renew(lease Lease) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[lease.RequestID]
	if !ok {
		return Lease{}, fmt.Errorf("%w: %s", ErrNotFound, lease.RequestID)
	}
	if e.token == "" || e.token != lease.Token {
		return Lease{}, fmt.Errorf("%w: %s", ErrLeaseNotHeld, lease.RequestID)
	}

	expires := s.now().Add(s.leaseTTL)
	e.req.LeaseExpiresAt = &expires
	lease.Station = e.req.ClaimedBy
	lease.ExpiresAt = expires
	return lease, nil
}

// Run expires leases until ctx is done or the queue is closed
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.expireLeases()
		}
	}
}

// expireLeases returns requests with lapsed leases to the claimable pool
func (s *Service) expireLeases() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := 0
	for _, e := range s.pending {
		if e.token == "" || e.req.Claimed(now) {
			continue
		}
		s.logger.Printf("Lease on %s held by %s expired", e.req.ID, e.req.ClaimedBy)
		s.unclaimLocked(e)
		expired++
	}
	return expired
}

func (s *Service) unclaimLocked(e *entry) {
	e.token = ""
	e.req.ClaimedBy = ""
	e.req.LeaseExpiresAt = nil
	s.publishLocked(EventReleased, e.req.clone())
}

func (s *Service) removeLocked(id string) {
	delete(s.index, id)
	for i, e := range s.pending {
		if e.req.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Subscribe registers for queue events. Events are buffered without limit, so
// a slow subscriber never blocks the queue. After Close the subscription is
// returned already ended.
func (s *Service) Subscribe(opts ...SubscriptionOption) *Subscription {
	var cfg subscriptionConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		name:    cfg.name,
		ch:      make(chan Event),
		box:     newMailbox(),
		service: s,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.box.drainLoop(drainCtx, sub.ch)

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		sub.shutdown()
		return sub
	default:
	}
	s.nextSub++
	sub.id = s.nextSub
	s.subs[sub.id] = sub
	s.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			select {
			case <-cfg.ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}

	return sub
}

// SubscribeFunc calls fn for every event on its own goroutine
func (s *Service) SubscribeFunc(fn func(Event), opts ...SubscriptionOption) *Subscription {
	sub := s.Subscribe(opts...)
	go func() {
		for ev := range sub.C() {
			fn(ev)
		}
	}()
	return sub
}

// Unsubscribe ends a subscription. Calling it twice is safe.
func (s *Service) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
}

func (s *Service) remove(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *Service) publishLocked(t EventType, req Request) {
	ev := Event{Type: t, Request: req, At: s.now()}
	for _, sub := range s.subs {
		sub.box.push(ev)
	}
}

// Stats summarises the queue
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := Stats{
		Pending:     len(s.pending),
		History:     len(s.history),
		Subscribers: len(s.subs),
	}
	for _, e := range s.pending {
		if e.req.Claimed(now) {
			st.Claimed++
		}
	}
	return st
}

// Close stops Run and ends every subscription
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for id, sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}
