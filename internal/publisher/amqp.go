package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/metrics"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

const sinkAMQP = "rabbitmq"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes event envelopes to a RabbitMQ topic exchange, routed by
// event type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	service  string
	logger   *zap.Logger
}

// NewAMQP connects to RabbitMQ and declares a durable topic exchange.
func NewAMQP(url, exchange, service string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		service:  service,
		logger:   logger,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, correlation uuid.UUID, payload any) error {
	env, err := model.NewEnvelope(p.service, eventType, correlation, payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed", zap.String("event_type", eventType), zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	start := time.Now()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		eventType, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.ID.String(),
			CorrelationId: env.CorrelationID.String(),
			Timestamp:     env.Timestamp,
			Type:          eventType,
			AppId:         p.service,
			Body:          body,
		},
	)
	metrics.ObserveDuration(metrics.EventPublishLatency, start, sinkAMQP)
	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("exchange", p.exchange),
			zap.String("event_type", eventType),
			zap.Error(err))
		metrics.IncEvent(sinkAMQP, eventType, "error")
		return err
	}

	p.logger.Info("publisher.publish_success",
		zap.String("exchange", p.exchange),
		zap.String("event_type", eventType),
		zap.Stringer("correlation_id", env.CorrelationID))
	metrics.IncEvent(sinkAMQP, eventType, "ok")
	return nil
}

// Close closes the publisher
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
