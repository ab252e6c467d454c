package kafka

import (
	"context"
	"errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"testing"
	"time"
)

func testConsumer(workers int) *Consumer {
	return &Consumer{workers: workers, log: zap.NewNop(), backoff: time.Millisecond, maxBackoff: 4 * time.Millisecond}
}

func TestProcessRetriesUntilSuccess(t *testing.T) {
	c := testConsumer(1)
	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		if calls < 4 {
			return errors.New("db down")
		}
		return nil
	}

	ok := c.process(context.Background(), 0, kafka.Message{Offset: 10}, h)
	assert.True(t, ok)
	assert.Equal(t, 4, calls)
}

func TestProcessStopsWhenContextDone(t *testing.T) {
	c := testConsumer(1)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return errors.New("still failing")
	}

	// gagal terus: tidak boleh dianggap sukses (offset tidak di-commit)
	ok := c.process(ctx, 0, kafka.Message{Offset: 10}, h)
	assert.False(t, ok)
	assert.Equal(t, 3, calls)
}

func TestWorkerForPinsPartition(t *testing.T) {
	c := testConsumer(3)
	for p := 0; p < 10; p++ {
		assert.Equal(t, c.workerFor(p), c.workerFor(p))
		assert.Less(t, c.workerFor(p), 3)
	}
	assert.Equal(t, 1, c.workerFor(4))
	assert.Equal(t, 0, testConsumer(1).workerFor(7))
}
