package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/database"
)

// Minimum age before an undelivered invoice is picked up by the sweep. Keeps
// the sweeper from racing jobs that are still sitting in the queue.
const deliverySweepMinAge = 30 * time.Minute

// Manager manages the global job queue and background tasks
type Manager struct {
	queue               *Queue
	deliverySweepTicker *time.Ticker
	stopCh              chan struct{}
	wg                  sync.WaitGroup
	mu                  sync.Mutex
	running             bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		// Get worker count from settings, fallback to 5 if not available
		workerCount := 5
		if settings := getAppSettings(); settings != nil {
			workerCount = settings.GetJobQueueWorkerCount()
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Re-enqueue invoice deliveries that never went out (lost jobs, restarts)
	m.deliverySweepTicker = time.NewTicker(15 * time.Minute)
	m.wg.Add(1)
	go m.deliverySweepWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.deliverySweepTicker != nil {
		m.deliverySweepTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// deliverySweepWorker runs periodically and re-enqueues undelivered invoices
func (m *Manager) deliverySweepWorker() {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started delivery sweep worker (interval: 15 minutes)")

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Delivery sweep worker stopping")
			return
		case <-m.deliverySweepTicker.C:
			if err := m.sweepUnsentInvoices(); err != nil {
				log.Errorf("[JobQueue Manager] Delivery sweep error: %v", err)
			}
		}
	}
}

// sweepUnsentInvoices finds invoices whose mail never went out and schedules
// a fresh delivery for each. The delivery job itself is idempotent, so a
// duplicate enqueue is harmless.
func (m *Manager) sweepUnsentInvoices() error {
	db := database.GetDB()
	if db == nil {
		return nil
	}

	cutoff := time.Now().Add(-deliverySweepMinAge)
	var invoices []models.Invoice
	err := db.Where("email_sent = ? AND created_at < ?", false, cutoff).
		Order("created_at ASC").
		Limit(100).
		Find(&invoices).Error
	if err != nil {
		return err
	}

	if len(invoices) == 0 {
		return nil
	}

	log.Infof("[JobQueue Manager] Delivery sweep found %d undelivered invoices", len(invoices))
	ctx := context.Background()
	for _, invoice := range invoices {
		if err := m.queue.EnqueueInvoiceDelivery(ctx, invoice.ID); err != nil {
			log.Errorf("[JobQueue Manager] Failed to re-enqueue delivery for invoice %s: %v", invoice.Number, err)
		}
	}
	return nil
}

// RunDeliverySweepOnce exposes a manual trigger for a single sweep (admin use).
func (m *Manager) RunDeliverySweepOnce() error {
	return m.sweepUnsentInvoices()
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// getAppSettings safely returns the current app settings
func getAppSettings() *models.AppSettings {
	return models.GetAppSettings()
}
