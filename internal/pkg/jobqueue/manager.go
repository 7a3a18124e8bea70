package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/internal/pkg/env"
)

// Manager manages the global job queue and its schedules
type Manager struct {
	queue           *Queue
	reconcileTicker *time.Ticker
	pruneTicker     *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		queue := NewQueue(env.GetEnvInt("JOBQUEUE_WORKERS", 1))
		queue.Register(JobTypeReconcile, processReconcileJob)
		queue.Register(JobTypePruneTokens, processPruneTokensJob)

		globalManager = &Manager{
			queue:  queue,
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and the periodic schedules. A non-positive
// RECONCILE_INTERVAL disables the scheduled passes; admin-triggered ones
// still run.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and schedules")

	m.queue.Start()

	reconcileInterval := env.GetEnvDuration("RECONCILE_INTERVAL", 24*time.Hour)
	if reconcileInterval > 0 {
		m.reconcileTicker = time.NewTicker(reconcileInterval)
		m.wg.Add(1)
		go m.scheduleWorker(m.reconcileTicker, JobTypeReconcile, ReconcileJobPayload{TriggeredBy: "schedule"}.ToMap())
	}

	m.pruneTicker = time.NewTicker(env.GetEnvDuration("TOKEN_PRUNE_INTERVAL", 12*time.Hour))
	m.wg.Add(1)
	go m.scheduleWorker(m.pruneTicker, JobTypePruneTokens, nil)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and schedules
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping...")
	close(m.stopCh)
	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.pruneTicker != nil {
		m.pruneTicker.Stop()
	}
	m.wg.Wait()
	m.queue.Stop()
	m.running = false
	log.Info("[JobQueue Manager] Stopped")
}

func (m *Manager) scheduleWorker(ticker *time.Ticker, jobType JobType, payload map[string]interface{}) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if _, err := m.queue.EnqueueJob(jobType, payload); err != nil {
				log.Errorf("[JobQueue Manager] Failed to enqueue %s: %v", jobType, err)
			}
		}
	}
}
