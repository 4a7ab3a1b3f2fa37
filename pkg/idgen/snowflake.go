package idgen

import (
	"fmt"
	"sync"
	"time"
)

// 64-bit layout: sign(0) | 41 bits ms since epoch | 10 bits worker | 12 bits sequence.
const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
	now       func() time.Time
}

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID must be between 0 and %d", maxWorkerID)
	}
	return &Snowflake{workerID: workerID, now: time.Now}, nil
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted for this millisecond
			for now <= s.timestamp {
				now = s.now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// PaymentID returns an id like PAY20240513143052_279036529510400001.
// The suffix is the full snowflake so two nodes never collide.
func (s *Snowflake) PaymentID() string {
	id := s.Generate()
	return fmt.Sprintf("PAY%s_%d", s.now().UTC().Format("20060102150405"), id)
}

// RefundKey is the idempotency key handed to the rail for a refund.
func (s *Snowflake) RefundKey(paymentID string) string {
	return "refund:" + paymentID
}
