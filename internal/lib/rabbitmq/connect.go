// Package rabbitmq содержит подключение к брокеру, объявление топологии,
// публикацию и потребление JSON-сообщений.
package rabbitmq

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"
)

// Connect подключается к брокеру, повторяя попытку до retries раз с паузой delay.
func Connect(connection string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	if retries < 1 {
		retries = 1
	}

	var conn *amqp.Connection
	err := backoff.Retry(func() error {
		var err error
		conn, err = amqp.Dial(connection)
		return err
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries-1)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return conn, nil
}

// QueueConfig очередь и ключ маршрутизации, которым она привязана к exchange.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Topology exchange и привязанные к нему очереди.
type Topology struct {
	Exchange string
	Kind     string
	Queues   []QueueConfig
}

// Имена exchange и очередей сервиса.
const (
	NotificationsExchange = "notifications"
	EmailRoutingKey       = "email"
	EmailQueue            = "notifications.email"

	AnalyticsExchange = "analytics"
	AnalyticsQueue    = "analytics.events"
)

// NotificationTopology очередь писем.
func NotificationTopology() Topology {
	return Topology{
		Exchange: NotificationsExchange,
		Kind:     amqp.ExchangeDirect,
		Queues:   []QueueConfig{{QueueName: EmailQueue, RoutingKey: EmailRoutingKey}},
	}
}

// AnalyticsTopology fanout-exchange аналитических событий с очередью для
// внешних потребителей.
func AnalyticsTopology() Topology {
	return Topology{
		Exchange: AnalyticsExchange,
		Kind:     amqp.ExchangeFanout,
		Queues:   []QueueConfig{{QueueName: AnalyticsQueue}},
	}
}

// SetupChannel открывает канал, выставляет prefetch и объявляет топологии.
func SetupChannel(conn *amqp.Connection, prefetch int, topologies ...Topology) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to set QoS: %w", op, err)
		}
	}

	for _, t := range topologies {
		if err := declare(ch, t); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return ch, nil
}

func declare(ch *amqp.Channel, t Topology) error {
	kind := t.Kind
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	if err := ch.ExchangeDeclare(t.Exchange, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.QueueName, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s with routing key %s: %w", q.QueueName, q.RoutingKey, err)
		}
	}
	return nil
}
