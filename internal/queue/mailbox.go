package queue

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO of events for one subscriber. Publishers never
// block on it; a drain goroutine moves events to the subscriber channel.
type mailbox struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{} // signalled on push so drainLoop wakes up
	done   chan struct{} // closed when drainLoop exits
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) == 0 {
		return Event{}, false
	}
	ev := m.events[0]
	m.events[0] = Event{}
	m.events = m.events[1:]
	if len(m.events) == 0 {
		m.events = nil
	}
	return ev, true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// drainLoop moves events into ch until ctx is cancelled
func (m *mailbox) drainLoop(ctx context.Context, ch chan<- Event) {
	defer close(m.done)
	for {
		for {
			ev, ok := m.pop()
			if !ok {
				break
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-m.notify:
		}
	}
}
