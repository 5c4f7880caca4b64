package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/config"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

// topology is the part of *rabbitmq.Channel used to declare exchanges and queues.
type topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (rabbitmq.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

type publisher interface {
	PublishWithRetry(body []byte, routingKey, contentType string, strategy retry.Strategy, options ...rabbitmq.PublishingOptions) error
}

type consumer interface {
	ConsumeWithRetry(msgChan chan []byte, strategy retry.Strategy) error
}

// DispatchQueue carries dispatch tasks over RabbitMQ.
//
// Topology: a direct exchange routes RoutingKey to the main queue and
// RoutingKey+".retry" to the retry queue. The retry queue has a message TTL and
// dead-letters expired tasks back into the main queue, which is how a task
// is redelivered after a storage fault. Rejected main queue messages go to the DLQ.
type DispatchQueue struct {
	publisher publisher
	consumer  consumer

	routingKey      string
	retryRoutingKey string
}

// NewDispatchQueue declares the exchange and queues on ch and binds them.
func NewDispatchQueue(ch *rabbitmq.Channel, cfg config.RabbitMQ, retryDelay time.Duration) (*DispatchQueue, error) {
	if err := declareTopology(ch, cfg, retryDelay); err != nil {
		return nil, err
	}

	return newDispatchQueue(
		rabbitmq.NewPublisher(ch, cfg.Exchange),
		rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(cfg.Queue)),
		cfg.RoutingKey,
	), nil
}

func newDispatchQueue(pub publisher, cons consumer, routingKey string) *DispatchQueue {
	return &DispatchQueue{
		publisher:       pub,
		consumer:        cons,
		routingKey:      routingKey,
		retryRoutingKey: retryKey(routingKey),
	}
}

func retryKey(routingKey string) string {
	return routingKey + ".retry"
}

func declareTopology(t topology, cfg config.RabbitMQ, retryDelay time.Duration) error {
	if err := t.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := t.QueueDeclare(cfg.DLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	retryQ, err := t.QueueDeclare(cfg.RetryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.Queue,
		"x-message-ttl":             int32(retryDelay.Milliseconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	mainQ, err := t.QueueDeclare(cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQ,
	})
	if err != nil {
		return fmt.Errorf("failed to declare main queue: %w", err)
	}

	if err := t.QueueBind(mainQ.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind the exchange to the main queue: %w", err)
	}

	if err := t.QueueBind(retryQ.Name, retryKey(cfg.RoutingKey), cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind the exchange to the retry queue: %w", err)
	}

	return nil
}

// Publish enqueues a task on the main queue.
func (q *DispatchQueue) Publish(_ context.Context, task model.DispatchTask, strategy retry.Strategy) error {
	return q.publish(task, q.routingKey, strategy)
}

// Retry parks a task on the retry queue; it reappears on the main queue
// once the TTL expires.
func (q *DispatchQueue) Retry(_ context.Context, task model.DispatchTask, strategy retry.Strategy) error {
	return q.publish(task, q.retryRoutingKey, strategy)
}

func (q *DispatchQueue) publish(task model.DispatchTask, routingKey string, strategy retry.Strategy) error {
	body, err := task.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.publisher.PublishWithRetry(body, routingKey, "application/json", strategy); err != nil {
		return fmt.Errorf("failed to publish task %s: %w", task.NotificationID, err)
	}

	return nil
}

// Consume forwards decoded tasks into out until ctx is done. Malformed
// messages are logged and dropped.
//
// The consumer acks a message before handing it over, so a message received
// after ctx is done is dropped too; the row stays pending or processing and the
// sweeper picks it up.
func (q *DispatchQueue) Consume(ctx context.Context, out chan<- model.DispatchTask, strategy retry.Strategy) error {
	msgChan := make(chan []byte)
	errChan := make(chan error, 1)

	go func() {
		errChan <- q.consumer.ConsumeWithRetry(msgChan, strategy)
	}()

	for {
		select {
		case <-ctx.Done():
			drain(msgChan, errChan)
			return nil
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("failed to consume tasks: %w", err)
			}
			return nil
		case m := <-msgChan:
			task, err := model.DecodeDispatchTask(m)
			if err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to decode dispatch task")
				continue
			}

			select {
			case out <- task:
			case <-ctx.Done():
				drain(msgChan, errChan)
				return nil
			}
		}
	}
}

// drain keeps receiving from msgChan until the consumer returns, which
// happens once the AMQP channel is closed on shutdown.
func drain(msgChan <-chan []byte, errChan <-chan error) {
	go func() {
		for {
			select {
			case <-msgChan:
				zlog.Logger.Warn().Msg("dropping dispatch task received during shutdown")
			case <-errChan:
				return
			}
		}
	}()
}
