// Package events publishes license lifecycle events to RabbitMQ for
// downstream purchase-flow integrations. Publishing is best-effort: failures
// are logged and never propagate to the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/salesmgr/license-server/internal/models"
)

const queueName = "license.events"

// Event types carried on the license.events queue.
const (
	TypeIssued   = "license.issued"
	TypeRedeemed = "license.redeemed"
)

type Event struct {
	Type             string    `json:"type"`
	Code             string    `json:"code"`
	LicenseType      string    `json:"license_type,omitempty"`
	GenerationMethod string    `json:"generation_method,omitempty"`
	MachineID        string    `json:"machine_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher keeps one AMQP connection and redials on demand. All methods are
// safe for concurrent use.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

func (p *Publisher) LicenseIssued(ctx context.Context, rec *models.LicenseCode) {
	p.publish(ctx, Event{
		Type:             TypeIssued,
		Code:             rec.Code,
		LicenseType:      rec.LicenseType,
		GenerationMethod: rec.GenerationMethod,
		Timestamp:        time.Now().UTC(),
	})
}

func (p *Publisher) LicenseRedeemed(ctx context.Context, code, machineID string) {
	p.publish(ctx, Event{
		Type:      TypeRedeemed,
		Code:      code,
		MachineID: machineID,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal failed", "type", event.Type, "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		slog.Error("event publish failed: broker unavailable", "type", event.Type, "error", err)
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Timestamp,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
		// Drop the broken channel; the next publish redials.
		p.reset()
		slog.Error("event publish failed", "type", event.Type, "error", err)
	}
}

// channel returns the open channel, dialing and declaring the durable queue
// if needed. Caller holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	p.conn = conn
	p.ch = ch
	return ch, nil
}

// reset drops the cached connection. Caller holds p.mu.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
