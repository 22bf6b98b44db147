package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(ctx context.Context, v any) error
}

// publisher owns one channel; amqp channels are not safe for concurrent publishes.
type publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	topology Topology
}

func NewPublisher(conn *amqp.Connection, topology Topology) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := topology.declare(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare %s: %w", topology.Exchange, err)
	}
	return &publisher{ch: ch, topology: topology}, nil
}

func (p *publisher) Publish(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.topology.Exchange, p.topology.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
}
