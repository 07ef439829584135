package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.NotNil(t, queue.workerPool)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.running)
		})
	}
}

func TestConstants(t *testing.T) {
	// Test Redis key constants
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	// Test job settings constants
	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestEnqueueInvoiceDelivery(t *testing.T) {
	host, port, password := resolveTestRedis(t)
	configureTestCache(host, port, password)
	resetJobQueueRedis(t)
	t.Cleanup(func() { resetJobQueueRedis(t) })

	ctx := context.Background()
	queue := NewQueue(1)

	err := queue.EnqueueInvoiceDelivery(ctx, 42)
	require.NoError(t, err)

	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	// The stored job carries the invoice id in its payload
	job, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobTypeInvoiceDelivery, job.Type)

	payload, err := InvoiceDeliveryJobPayloadFromMap(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint(42), payload.InvoiceID)
}

func TestJobStatsTracking(t *testing.T) {
	host, port, password := resolveTestRedis(t)
	configureTestCache(host, port, password)
	resetJobQueueRedis(t)
	t.Cleanup(func() { resetJobQueueRedis(t) })

	ctx := context.Background()
	queue := NewQueue(1)

	for i := 0; i < 3; i++ {
		err := queue.EnqueueInvoiceDelivery(ctx, uint(i+1))
		require.NoError(t, err)
	}

	stats, err := queue.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats[JobStatusPending])
}
