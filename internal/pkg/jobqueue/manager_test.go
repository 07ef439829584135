package jobqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetManager clears the package singleton so each test observes a fresh
// manager.
func resetManager() {
	globalManager = nil
	managerOnce = sync.Once{}
}

func TestGetManagerIsSingleton(t *testing.T) {
	resetManager()

	first := GetManager()
	second := GetManager()

	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Same(t, first.queue, first.GetQueue())
	assert.False(t, first.IsRunning())
}

func TestGetManagerWorkerCountWithoutSettings(t *testing.T) {
	resetManager()

	// No app settings loaded in this package's tests, so the manager falls
	// back to its default worker count.
	manager := GetManager()
	assert.Equal(t, 5, manager.queue.workers)
}

func TestManagerStopBeforeStartIsSafe(t *testing.T) {
	resetManager()

	manager := GetManager()
	assert.False(t, manager.IsRunning())
	manager.Stop()
	assert.False(t, manager.IsRunning())
}

func TestRunDeliverySweepOnceWithoutDatabase(t *testing.T) {
	resetManager()

	// Without a configured database the sweep is a no-op, not a failure. The
	// periodic sweep must survive a service that comes up before its DB.
	manager := GetManager()
	assert.NoError(t, manager.RunDeliverySweepOnce())
}

func TestManagerStartWiresDeliverySweep(t *testing.T) {
	host, port, password := resolveTestRedis(t)
	configureTestCache(host, port, password)
	resetJobQueueRedis(t)
	t.Cleanup(func() { resetJobQueueRedis(t) })

	resetManager()
	manager := GetManager()

	manager.Start()
	assert.True(t, manager.IsRunning())
	assert.True(t, manager.queue.running)
	require.NotNil(t, manager.deliverySweepTicker, "starting the manager must arm the delivery sweep")

	// Starting twice must not arm a second sweep loop.
	ticker := manager.deliverySweepTicker
	manager.Start()
	assert.Same(t, ticker, manager.deliverySweepTicker)

	manager.Stop()
	assert.False(t, manager.IsRunning())
	assert.False(t, manager.queue.running)
}
