package jobqueue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	// PayoutRunLockPrefix guards the monthly payout run; one key per month.
	PayoutRunLockPrefix = "affiliate:payout_run:"
	payoutRunLockTTL    = 32 * 24 * time.Hour

	defaultPayoutCheckInterval = time.Hour
	counterFlushInterval       = 5 * time.Second
)

// CounterFlusher moves buffered counters from Redis into the database.
type CounterFlusher interface {
	Flush(ctx context.Context) error
}

// Manager runs the job queue, the monthly payout scheduler and the
// counter flush worker
type Manager struct {
	queue              *Queue
	payoutDay          int
	checkInterval      time.Duration
	payoutTicker       *time.Ticker
	counters           CounterFlusher
	counterFlushTicker *time.Ticker
	now           func() time.Time
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewManager creates a manager that schedules the payout run on payoutDay
// of every month (1-28).
func NewManager(queue *Queue, payoutDay int) *Manager {
	if payoutDay < 1 || payoutDay > 28 {
		payoutDay = 1
	}
	return &Manager{
		queue:         queue,
		payoutDay:     payoutDay,
		checkInterval: defaultPayoutCheckInterval,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

// SetCounterFlusher registers the counters flushed every few seconds while
// the manager runs. Call before Start.
func (m *Manager) SetCounterFlusher(f CounterFlusher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = f
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
	log.Info("[JobQueue Manager] Starting job queue and payout scheduler")

	m.queue.Start()

	m.payoutTicker = time.NewTicker(m.checkInterval)
	m.wg.Add(1)
	go m.payoutScheduler(m.stopCh, m.payoutTicker.C)

	if m.counters != nil {
		m.counterFlushTicker = time.NewTicker(counterFlushInterval)
		m.wg.Add(1)
		go m.counterFlushWorker(m.stopCh, m.counterFlushTicker.C)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and payout scheduler...")

	if m.payoutTicker != nil {
		m.payoutTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// payoutScheduler checks once at start and then on every tick whether this
// month's payout run is due.
func (m *Manager) payoutScheduler(stopCh <-chan struct{}, tick <-chan time.Time) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Payout scheduler running (day %d, check every %s)", m.payoutDay, m.checkInterval)

	check := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := m.SchedulePayoutRun(ctx, m.now()); err != nil {
			log.Errorf("[JobQueue Manager] Payout scheduling error: %v", err)
		}
	}

	check()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Payout scheduler stopping")
			return
		case <-tick:
			check()
		}
	}
}

// counterFlushWorker flushes counters on every tick and once more on stop.
func (m *Manager) counterFlushWorker(stopCh <-chan struct{}, tick <-chan time.Time) {
	defer m.wg.Done()

	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.counters.Flush(ctx); err != nil {
			log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
		}
	}

	for {
		select {
		case <-stopCh:
			flush()
			return
		case <-tick:
			flush()
		}
	}
}

// SchedulePayoutRun enqueues the monthly payout job when now falls on or
// after the payout day and no instance has claimed the month yet. It reports
// whether this call enqueued the run.
func (m *Manager) SchedulePayoutRun(ctx context.Context, now time.Time) (bool, error) {
	now = now.UTC()
	if now.Day() < m.payoutDay {
		return false, nil
	}

	period := now.Format("2006-01")
	owner, _ := os.Hostname()
	acquired, err := m.queue.client.SetNX(ctx, PayoutRunLockKey(now), fmt.Sprintf("%s@%s", owner, now.Format(time.RFC3339)), payoutRunLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire payout run lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	job, err := m.queue.Enqueue(ctx, JobTypeMonthlyPayouts, MonthlyPayoutsJobPayload{Period: period}.ToMap())
	if err != nil {
		// release so the next check can retry
		_ = m.queue.client.Del(ctx, PayoutRunLockKey(now)).Err()
		return false, err
	}
	log.Infof("[JobQueue Manager] Scheduled payout run for %s (job %s)", period, job.ID)
	return true, nil
}

// PayoutRunLockKey is the Redis key claiming the payout run of now's month.
func PayoutRunLockKey(now time.Time) string {
	return PayoutRunLockPrefix + now.UTC().Format("2006-01")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
