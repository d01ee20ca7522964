package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"netfuzz/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const CrashQueueName = "crash_queue"

var ErrNoChannel = errors.New("no rabbitmq channel available")

type RabbitMQ interface {
	GetChannel() *amqp.Channel
}

// rabbitMQImpl holds one broker connection. A closed connection is redialed
// on the next GetChannel; crash notifications are rare enough that a pool
// buys nothing.
type rabbitMQImpl struct {
	logger *zap.Logger
	url    string

	mu   sync.Mutex
	conn *amqp.Connection
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewRabbitMQ returns nil when no broker is configured.
func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	if p.Config.RabbitMQURL == "" {
		p.Logger.Debug("no rabbitmq configured, crash notifications disabled")
		return nil
	}
	svc := newRabbitMQ(p.Config.RabbitMQURL, p.Logger)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := svc.connection(); err != nil {
				return fmt.Errorf("failed to connect to rabbitmq: %w", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return svc.close()
		},
	})
	return svc
}

func newRabbitMQ(url string, logger *zap.Logger) *rabbitMQImpl {
	return &rabbitMQImpl{logger: logger, url: url}
}

// connection returns the open connection, dialing a new one when needed.
func (r *rabbitMQImpl) connection() (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}
	if r.conn != nil {
		r.logger.Warn("rabbitmq connection lost, reconnecting")
	}
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

func (r *rabbitMQImpl) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}

func (r *rabbitMQImpl) GetChannel() *amqp.Channel {
	conn, err := r.connection()
	if err != nil {
		r.logger.Error("failed to connect to rabbitmq", zap.Error(err))
		return nil
	}
	ch, err := conn.Channel()
	if err != nil {
		r.logger.Error("failed to create rabbitmq channel", zap.Error(err))
		return nil
	}
	return ch
}

// DeclareQueue declares a durable queue.
func DeclareQueue(r RabbitMQ, name string) error {
	channel := r.GetChannel()
	if channel == nil {
		return ErrNoChannel
	}
	defer channel.Close()
	_, err := channel.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

// PublishJSON marshals v and publishes it to queue through the default exchange.
func PublishJSON(ctx context.Context, r RabbitMQ, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	channel := r.GetChannel()
	if channel == nil {
		return ErrNoChannel
	}
	defer channel.Close()
	return channel.PublishWithContext(ctx,
		"",
		queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
