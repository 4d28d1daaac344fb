package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

type TaskKind string

const (
	TaskSaveLocal     TaskKind = "save_local"
	TaskClearLocal    TaskKind = "clear_local"
	TaskSaveLastOrder TaskKind = "save_last_order"
	TaskUpsertCloud   TaskKind = "upsert_cloud"
	TaskSyncRemote    TaskKind = "sync_remote"
)

// PersistTask is one background write. Exactly one payload field is set,
// matching Kind.
type PersistTask struct {
	ID        string
	Kind      TaskKind
	Namespace string

	Cart    *domain.StoredCart
	Version int64
	Order   *domain.OrderRecord
	Cloud   *domain.CloudCartRecord
	Remote  *RemoteSync

	EnqueuedAt time.Time
}

// RemoteSync replays a cart mutation against the backend cart.
type RemoteSync struct {
	Action  domain.Action
	Payload any
}

// TaskQueue accepts background tasks without blocking the caller.
type TaskQueue interface {
	Enqueue(task PersistTask) bool
}

type PersistenceQueue struct {
	tasks   chan PersistTask
	local   port.LocalCartStore
	cloud   port.CloudCartStore
	gateway port.Gateway

	maxAttempts   int
	retryDelay    time.Duration
	taskTimeout   time.Duration
	remoteTimeout time.Duration
	logger        *zap.Logger

	mu     sync.RWMutex
	closed bool
	group  *errgroup.Group
}

type QueueOption func(*PersistenceQueue)

func WithQueueRetry(maxAttempts int, delay time.Duration) QueueOption {
	return func(q *PersistenceQueue) {
		if maxAttempts > 0 {
			q.maxAttempts = maxAttempts
		}
		q.retryDelay = delay
	}
}

func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *PersistenceQueue) { q.logger = logging.OrNop(l) }
}

// NewPersistenceQueue builds a queue. cloud and gateway may be nil; tasks
// for a missing target are skipped.
func NewPersistenceQueue(local port.LocalCartStore, cloud port.CloudCartStore, gateway port.Gateway, queueSize int, opts ...QueueOption) *PersistenceQueue {
	q := &PersistenceQueue{
		tasks:         make(chan PersistTask, queueSize),
		local:         local,
		cloud:         cloud,
		gateway:       gateway,
		maxAttempts:   3,
		retryDelay:    200 * time.Millisecond,
		taskTimeout:   5 * time.Second,
		remoteTimeout: 45 * time.Second,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. They exit when Close is called and the queue
// is drained.
func (q *PersistenceQueue) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	q.group = &errgroup.Group{}
	for i := 0; i < workers; i++ {
		id := i
		q.group.Go(func() error {
			q.workerLoop(id)
			return nil
		})
	}
	q.logger.Info("persistence workers started", zap.Int("workers", workers))
}

// Enqueue hands a task to the workers. It never blocks: a full or closed
// queue drops the task and reports false.
func (q *PersistenceQueue) Enqueue(task PersistTask) bool {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("task dropped, queue closed", zap.String("task", task.ID), zap.String("kind", string(task.Kind)))
		metrics.RecordPersistTask(string(task.Kind), "dropped")
		return false
	}

	select {
	case q.tasks <- task:
		metrics.SetPersistQueueDepth(len(q.tasks))
		return true
	default:
		q.logger.Error("task dropped, queue full", zap.String("task", task.ID), zap.String("kind", string(task.Kind)))
		metrics.RecordPersistTask(string(task.Kind), "dropped")
		return false
	}
}

// Close stops intake and waits for queued tasks to finish.
func (q *PersistenceQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	if q.group != nil {
		q.group.Wait()
	}
}

func (q *PersistenceQueue) workerLoop(id int) {
	for task := range q.tasks {
		metrics.SetPersistQueueDepth(len(q.tasks))
		q.process(id, task)
	}
}

// process delivers a task at least once, up to maxAttempts. Remote syncs get
// a single attempt here because the gateway owns retries for backend calls.
func (q *PersistenceQueue) process(worker int, task PersistTask) {
	attempts, timeout := q.maxAttempts, q.taskTimeout
	if task.Kind == TaskSyncRemote {
		attempts, timeout = 1, q.remoteTimeout
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && q.retryDelay > 0 {
			time.Sleep(time.Duration(attempt-1) * q.retryDelay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = q.execute(ctx, task)
		cancel()

		if err == nil {
			metrics.RecordPersistTask(string(task.Kind), "ok")
			q.logger.Debug("task done",
				zap.Int("worker", worker),
				zap.String("task", task.ID),
				zap.String("kind", string(task.Kind)),
				zap.Int("attempt", attempt),
			)
			return
		}
		q.logger.Warn("task attempt failed",
			zap.Int("worker", worker),
			zap.String("task", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	metrics.RecordPersistTask(string(task.Kind), "failed")
	q.logger.Error("task dropped after retries",
		zap.Int("worker", worker),
		zap.String("task", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.String("namespace", task.Namespace),
		zap.Error(err),
	)
}

func (q *PersistenceQueue) execute(ctx context.Context, task PersistTask) error {
	switch task.Kind {
	case TaskSaveLocal:
		if task.Cart == nil {
			return fmt.Errorf("task %s: missing cart", task.ID)
		}
		applied, err := q.local.SaveCart(ctx, task.Namespace, *task.Cart)
		if err != nil {
			return err
		}
		if !applied {
			q.logger.Debug("stale local write skipped", zap.String("task", task.ID), zap.Int64("version", task.Cart.Version))
		}
		return nil

	case TaskClearLocal:
		return q.local.ClearCart(ctx, task.Namespace, task.Version)

	case TaskSaveLastOrder:
		if task.Order == nil {
			return fmt.Errorf("task %s: missing order", task.ID)
		}
		return q.local.SaveLastOrder(ctx, task.Namespace, *task.Order)

	case TaskUpsertCloud:
		if q.cloud == nil {
			return nil
		}
		if task.Cloud == nil {
			return fmt.Errorf("task %s: missing cloud record", task.ID)
		}
		return q.cloud.UpsertCart(ctx, *task.Cloud)

	case TaskSyncRemote:
		if q.gateway == nil {
			return nil
		}
		if task.Remote == nil {
			return fmt.Errorf("task %s: missing remote sync", task.ID)
		}
		_, err := q.gateway.Call(ctx, task.Remote.Action, task.Remote.Payload)
		return err
	}
	return fmt.Errorf("task %s: unknown kind %q", task.ID, task.Kind)
}
