package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_Publish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"payment_id":"PAY1"}` {
			return errors.New("unexpected value " + string(val))
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerFrom(sp)
	require.NoError(t, p.Publish(context.Background(), "payment_events", "PAY1", `{"payment_id":"PAY1"}`))
	assert.ErrorIs(t, p.Publish(context.Background(), "payment_events", "PAY1", "x"), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
