package queue

import (
	"context"
	"sync"
)

// Subscription receives queue events in publication order
type Subscription struct {
	id      uint64
	name    string
	ch      chan Event
	box     *mailbox
	service *Service
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// SubscriptionOption customises a subscription
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	name string
	ctx  context.Context
}

// WithSubscriptionName labels the subscription in logs
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.name = name
	}
}

// WithContext closes the subscription when ctx is done
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.ctx = ctx
	}
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Name returns the subscription label
func (s *Subscription) Name() string {
	return s.name
}

// Done is closed once the subscription has ended
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Pending returns the number of events waiting in the mailbox
func (s *Subscription) Pending() int {
	return s.box.len()
}

// Close ends the subscription. Calling it more than once is safe.
func (s *Subscription) Close() {
	if s.service != nil {
		s.service.remove(s.id)
	}
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		s.cancel()
		<-s.box.done
		close(s.ch)
		close(s.done)
	})
}
