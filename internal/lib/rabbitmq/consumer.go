package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
)

// DefaultConcurrency число одновременно обрабатываемых сообщений.
const DefaultConcurrency = 10

// ConsumerMessage создает потребителя сообщений из очереди RabbitMQ. Сообщение
// подтверждается, если handler вернул nil, иначе возвращается в очередь.
// Возвращённый канал закрывается, когда все запущенные обработчики завершились.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, concurrency int, log *slog.Logger, handler func([]byte) error) (<-chan struct{}, error) {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		Dispatch(ctx, delivery, concurrency, log, handler)
	}()
	return done, nil
}

// Dispatch раздаёт доставки обработчикам, не более concurrency одновременно,
// и ждёт завершения запущенных обработчиков перед возвратом.
func Dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, concurrency int, log *slog.Logger, handler func([]byte) error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				settle(d.Acknowledger, d.DeliveryTag, log, handler(d.Body))
			}(d)
		case <-ctx.Done():
			return
		}
	}
}

func settle(ack amqp.Acknowledger, tag uint64, log *slog.Logger, handlerErr error) {
	if ack == nil {
		return
	}
	if handlerErr != nil {
		log.Warn("message handling failed, requeueing", sl.Err(handlerErr))
		if err := ack.Nack(tag, false, true); err != nil {
			log.Error("failed to nack message", sl.Err(err))
		}
		return
	}
	if err := ack.Ack(tag, false); err != nil {
		log.Error("failed to ack message", sl.Err(err))
	}
}
