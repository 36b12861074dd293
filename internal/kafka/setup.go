package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/clubhub/billing-engine/pkg/logger"
)

// EnsureTopics проверяет наличие топиков биллинга и создает недостающие
func EnsureTopics(brokers []string, log *logger.Logger) error {
	if len(brokers) == 0 || brokers[0] == "" {
		return errors.New("kafka broker address is empty")
	}

	required := []kafkaGo.TopicConfig{
		{Topic: TopicLifecycleEvents, NumPartitions: 3, ReplicationFactor: 1},
		{Topic: TopicPaymentEvents, NumPartitions: 3, ReplicationFactor: 1},
	}

	connCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := kafkaGo.DialLeader(connCtx, "tcp", brokers[0], "", 0)
	if err != nil {
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	existing := make(map[string]bool)
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	var toCreate []kafkaGo.TopicConfig
	for _, cfg := range required {
		if !existing[cfg.Topic] {
			toCreate = append(toCreate, cfg)
		}
	}
	if len(toCreate) == 0 {
		log.Debug("All required Kafka topics already exist")
		return nil
	}

	if err := conn.CreateTopics(toCreate...); err != nil {
		if errors.Is(err, kafkaGo.TopicAlreadyExists) {
			return nil
		}
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Kafka topics created", "count", len(toCreate))
	return nil
}
