package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Expirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// PaymentExpiryJob fails pending payments whose checkout was abandoned.
type PaymentExpiryJob struct {
	expirer   Expirer
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPaymentExpiryJob(expirer Expirer, interval time.Duration, log *zap.Logger) *PaymentExpiryJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PaymentExpiryJob{
		expirer:   expirer,
		log:       log,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 100,
	}
}

func (j *PaymentExpiryJob) Start(ctx context.Context) {
	j.log.Info("[PaymentExpiryJob] started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("[PaymentExpiryJob] context done, exiting")
			return
		case <-j.stopCh:
			j.log.Info("[PaymentExpiryJob] stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *PaymentExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PaymentExpiryJob) runOnce(ctx context.Context) {
	n, err := j.expirer.ExpireStale(ctx, j.batchSize)
	if err != nil {
		j.log.Error("[PaymentExpiryJob] expire stale payments", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("[PaymentExpiryJob] expired pending payments", zap.Int("count", n))
	}
}
