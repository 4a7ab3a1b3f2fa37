package job

import (
	"context"
	"time"

	"lexpay/internal/model"

	"go.uber.org/zap"
)

type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkAsSent(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key, value string) error
}

// OutboxSender drains the outbox table to the broker. A message is retried
// until maxRetry sends have failed, then parked as FAILED.
type OutboxSender struct {
	store     OutboxStore
	publisher Publisher
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	maxRetry  int
}

func NewOutboxSender(store OutboxStore, publisher Publisher, interval time.Duration, maxRetry int, log *zap.Logger) *OutboxSender {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxSender{
		store:     store,
		publisher: publisher,
		log:       log,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 100,
		maxRetry:  maxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("[OutboxSender] started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("[OutboxSender] context done, exiting")
			return
		case <-s.stopCh:
			s.log.Info("[OutboxSender] stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("[OutboxSender] load pending messages", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if err := s.store.MarkAsSent(ctx, msg.ID); err != nil {
			s.log.Error("[OutboxSender] mark sent", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		s.log.Debug("[OutboxSender] sent",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("key", msg.MessageKey))
		return
	}

	s.log.Warn("[OutboxSender] publish failed", zap.Int64("id", msg.ID), zap.Error(err))

	if err := s.store.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error("[OutboxSender] increment retry count", zap.Int64("id", msg.ID), zap.Error(err))
	}

	if s.maxRetry > 0 && msg.RetryCount+1 >= s.maxRetry {
		if err := s.store.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error("[OutboxSender] mark failed", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		s.log.Error("[OutboxSender] retries exhausted, message parked", zap.Int64("id", msg.ID))
	}
}
