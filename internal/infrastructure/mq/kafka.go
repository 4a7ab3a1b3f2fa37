package mq

import (
	"context"
	"fmt"

	"lexpay/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Producer publishes outbox messages to Kafka.
type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	kc := sarama.NewConfig()
	kc.Producer.RequiredAcks = sarama.WaitForAll
	kc.Producer.Retry.Max = 3
	kc.Producer.Return.Successes = true
	kc.Producer.Idempotent = true
	kc.Net.MaxOpenRequests = 1
	kc.Version = sarama.V2_1_0_0

	p, err := sarama.NewSyncProducer(cfg.Brokers, kc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{producer: p}, nil
}

// NewProducerFrom wraps an existing producer (sarama/mocks in tests).
func NewProducerFrom(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

func (p *Producer) Publish(_ context.Context, topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// LogPublisher stands in for Kafka when kafka.enabled is false.
type LogPublisher struct {
	Log *zap.Logger
}

func (l LogPublisher) Publish(_ context.Context, topic, key, value string) error {
	l.Log.Info("outbox message", zap.String("topic", topic), zap.String("key", key), zap.String("value", value))
	return nil
}
