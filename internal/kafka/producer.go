package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// Топики событий биллинга
const (
	TopicLifecycleEvents = "billing_lifecycle_events"
	TopicPaymentEvents   = "billing_payment_events"
)

// Producer публикует события жизненного цикла подписок для внешнего
// диспетчера уведомлений
type Producer interface {
	PublishLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer создает и настраивает новый продюсер Kafka
func NewProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)
	return &kafkaProducer{writer: writer, log: log}, nil
}

// PublishLifecycleEvent отправляет событие в топик по его типу. Ключ
// сообщения — идентификатор подписки: все события одной подписки попадают
// в одну партицию и сохраняют порядок.
func (k *kafkaProducer) PublishLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Topic: topicFor(event.Type),
		Key:   []byte(event.SubscriptionID.String()),
		Value: value,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Lifecycle event published", "type", event.Type, "subscription_id", event.SubscriptionID)
	return nil
}

// Close закрывает writer продюсера. Вызывается при остановке приложения.
func (k *kafkaProducer) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Info("Kafka producer closed")
	return nil
}

// topicFor события payment.* уходят в платежный топик, остальные — в общий
func topicFor(eventType string) string {
	if strings.HasPrefix(eventType, "payment.") {
		return TopicPaymentEvents
	}
	return TopicLifecycleEvents
}
