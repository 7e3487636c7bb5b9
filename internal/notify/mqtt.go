// Package notify republishes queue events to an MQTT broker
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thereceipt/print-station/internal/queue"
)

// DefaultTopicPrefix is used when no prefix is configured
const DefaultTopicPrefix = "print-station"

const publishQoS = 1

// Publisher is the part of an MQTT client the bridge needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Source yields queue events
type Source interface {
	Subscribe(opts ...queue.SubscriptionOption) *queue.Subscription
}

// Bridge publishes every queue event to <prefix>/<event type>
type Bridge struct {
	client  Publisher
	prefix  string
	logger  *log.Logger
	timeout time.Duration
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the bridge logger
func WithLogger(logger *log.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithPublishTimeout bounds how long a publish waits for the broker
func WithPublishTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBridge creates a bridge over client
func NewBridge(client Publisher, prefix string, opts ...Option) *Bridge {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	b := &Bridge{
		client:  client,
		prefix:  prefix,
		logger:  log.New(log.Writer(), "[MQTT] ", log.LstdFlags),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Topic returns the topic an event type is published on
func (b *Bridge) Topic(t queue.EventType) string {
	return b.prefix + "/" + string(t)
}

// Publish sends one event and waits for the broker to acknowledge it
func (b *Bridge) Publish(ev queue.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	token := b.client.Publish(b.Topic(ev.Type), publishQoS, false, body)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("publish to %s timed out", b.Topic(ev.Type))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.Topic(ev.Type), err)
	}
	return nil
}

// Run forwards events from src until ctx is done
func (b *Bridge) Run(ctx context.Context, src Source) error {
	sub := src.Subscribe(queue.WithSubscriptionName("mqtt"), queue.WithContext(ctx))
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return ctx.Err()
			}
			if err := b.Publish(ev); err != nil {
				b.logger.Printf("Warning: %v", err)
			}
		}
	}
}

// Connect dials the broker and returns a connected client
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", broker, err)
	}

	log.Printf("[MQTT] Connected to %s as %s", broker, clientID)
	return client, nil
}
