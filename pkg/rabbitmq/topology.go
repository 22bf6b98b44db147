package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"worker-transcribe/config"
)

// Topology names the exchange, queue and dead-letter pair a consumer or publisher uses.
type Topology struct {
	Exchange      string
	Kind          string
	Queue         string
	RoutingKey    string
	DLX           string
	DLQ           string
	DLQRoutingKey string
}

func TopologyFromConfig(cfg *config.RabbitMQ) Topology {
	return Topology{
		Exchange:      cfg.Exchange,
		Kind:          cfg.Kind,
		Queue:         cfg.Queue,
		RoutingKey:    cfg.RoutingKey,
		DLX:           cfg.Exchange + "_dlx",
		DLQ:           cfg.Queue + "_dlq",
		DLQRoutingKey: "dlq." + cfg.RoutingKey,
	}
}

// declare is idempotent; both sides call it so either may start first.
func (t Topology) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(t.Exchange, t.Kind, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(t.DLX, t.Kind, true, false, false, false, nil); err != nil {
		return err
	}

	dlq, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(dlq.Name, t.DLQRoutingKey, t.DLX, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    t.DLX,
		"x-dead-letter-routing-key": t.DLQRoutingKey,
	}
	q, err := ch.QueueDeclare(t.Queue, true, false, false, false, args)
	if err != nil {
		return err
	}
	return ch.QueueBind(q.Name, t.RoutingKey, t.Exchange, false, nil)
}
