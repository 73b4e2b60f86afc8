package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type JobType string

const (
	JobTypeEmailNotification JobType = "email_notification"
	JobTypePasswordReset     JobType = "password_reset_email"
	JobTypeCleanup           JobType = "cleanup"
)

const (
	// RetryQueue is a sorted set scored by the unix time a job becomes due.
	RetryQueue = "retry_queue"
	DeadQueue  = "dead_queue"
)

const (
	maxRetryDelay = 24 * time.Hour

	// bookkeepingTimeout bounds the Redis writes that settle a job. They run
	// outside the worker context so a job interrupted by Stop is not lost.
	bookkeepingTimeout = 5 * time.Second
)

type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	MaxTries  int             `json:"max_tries"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ProcessAt time.Time       `json:"process_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

type JobHandler func(ctx context.Context, job *Job) error

type Worker struct {
	client       *redis.Client
	logger       *logrus.Logger
	handlers     map[JobType]JobHandler
	queues       []string
	pollInterval time.Duration
	retryBase    time.Duration
	jobTimeout   time.Duration
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	processed    int64
	failed       int64
	statsMu      sync.Mutex
}

type WorkerConfig struct {
	RedisClient  *redis.Client
	Logger       *logrus.Logger
	PollInterval time.Duration
	RetryBase    time.Duration
	JobTimeout   time.Duration
	Queues       []string
}

func NewWorker(config WorkerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 30 * time.Second
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Worker{
		client:       config.RedisClient,
		logger:       config.Logger,
		handlers:     make(map[JobType]JobHandler),
		queues:       config.Queues,
		pollInterval: config.PollInterval,
		retryBase:    config.RetryBase,
		jobTimeout:   config.JobTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// Start launches concurrency consumers plus one goroutine that moves due
// retries back onto their queues.
func (w *Worker) Start(concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.logger.WithField("concurrency", concurrency).Info("starting worker")

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop()
	}

	w.wg.Add(1)
	go w.retryLoop()
}

func (w *Worker) Stop() {
	w.logger.Info("stopping worker")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) workerLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			if err := w.processNextJob(); err != nil {
				if w.ctx.Err() != nil {
					if !errors.Is(err, context.Canceled) {
						w.logger.WithError(err).Error("error settling job during shutdown")
					}
					return
				}
				w.logger.WithError(err).Error("error processing job")
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) retryLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.PromoteDue(w.ctx, time.Now()); err != nil && w.ctx.Err() == nil {
				w.logger.WithError(err).Warn("failed to promote retries")
			}
		}
	}
}

func (w *Worker) processNextJob() error {
	result, err := w.client.BLPop(w.ctx, w.pollInterval, w.queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Queue == "" {
		job.Queue = result[0]
	}

	return w.executeJob(&job)
}

func (w *Worker) executeJob(job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	log := w.logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.Type})

	if !exists {
		w.countFailure()
		return w.moveToDeadQueue(job, fmt.Errorf("no handler registered for job type: %s", job.Type))
	}

	log.Debug("processing job")

	ctx, cancel := context.WithTimeout(w.ctx, w.jobTimeout)
	defer cancel()

	if err := handler(ctx, job); err != nil {
		if w.ctx.Err() != nil {
			log.WithError(err).Warn("job interrupted by shutdown, requeueing")
			return w.requeue(job)
		}
		job.Attempts++
		job.LastError = err.Error()
		if job.Attempts < job.MaxTries {
			log.WithError(err).Warnf("job failed (attempt %d/%d), retrying", job.Attempts, job.MaxTries)
			return w.retryJob(job)
		}

		log.WithError(err).Errorf("job failed permanently after %d attempts", job.Attempts)
		w.countFailure()
		return w.moveToDeadQueue(job, err)
	}

	w.statsMu.Lock()
	w.processed++
	w.statsMu.Unlock()
	log.Info("job completed")
	return nil
}

func (w *Worker) countFailure() {
	w.statsMu.Lock()
	w.failed++
	w.statsMu.Unlock()
}

// backoff is retryBase * 2^(attempts-1), capped at maxRetryDelay.
func (w *Worker) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := w.retryBase
	for i := 1; i < attempts && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (w *Worker) retryJob(job *Job) error {
	job.ProcessAt = time.Now().Add(w.backoff(job.Attempts))

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	return w.client.ZAdd(ctx, RetryQueue, redis.Z{
		Score:  float64(job.ProcessAt.Unix()),
		Member: data,
	}).Err()
}

// PromoteDue moves every retry whose time has come back onto its queue.
func (w *Worker) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := w.client.ZRangeByScore(ctx, RetryQueue, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, member := range due {
		removed, err := w.client.ZRem(ctx, RetryQueue, member).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			// another worker took it
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			w.logger.WithError(err).Warn("dropping malformed retry entry")
			continue
		}
		queue := job.Queue
		if queue == "" && len(w.queues) > 0 {
			queue = w.queues[0]
		}
		if err := w.client.RPush(ctx, queue, member).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (w *Worker) moveToDeadQueue(job *Job, jobErr error) error {
	deadJob := map[string]interface{}{
		"original_job": job,
		"error":        jobErr.Error(),
		"failed_at":    time.Now(),
	}

	deadJobData, err := json.Marshal(deadJob)
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	return w.client.RPush(ctx, DeadQueue, deadJobData).Err()
}

// requeue puts a job back at the head of its queue without spending an
// attempt.
func (w *Worker) requeue(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	queue := job.Queue
	if queue == "" && len(w.queues) > 0 {
		queue = w.queues[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	return w.client.LPush(ctx, queue, data).Err()
}

// Counters reports how many jobs completed and how many were given up on.
func (w *Worker) Counters() (processed, failed int64) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.processed, w.failed
}

type JobQueue struct {
	client   *redis.Client
	maxTries int
}

func NewJobQueue(client *redis.Client, maxTries int) *JobQueue {
	if maxTries < 1 {
		maxTries = 1
	}
	return &JobQueue{client: client, maxTries: maxTries}
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, jobType JobType, payload interface{}) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		ID:        id.String(),
		Type:      jobType,
		Queue:     queue,
		Payload:   data,
		MaxTries:  q.maxTries,
		CreatedAt: now,
		ProcessAt: now,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := q.client.RPush(ctx, queue, jobData).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

func (q *JobQueue) GetQueueSize(ctx context.Context, queue string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if queue == RetryQueue {
		return q.client.ZCard(ctx, queue).Result()
	}
	return q.client.LLen(ctx, queue).Result()
}
