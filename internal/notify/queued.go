package notify

import (
	"context"
	"fmt"

	"taskflow/backend/internal/worker"
)

// QueuedNotifier hands messages to the job queue and returns at once.
// Delivery happens in the worker through the handlers from RegisterHandlers.
type QueuedNotifier struct {
	queue     *worker.JobQueue
	queueName string
}

func NewQueuedNotifier(queue *worker.JobQueue, queueName string) *QueuedNotifier {
	return &QueuedNotifier{queue: queue, queueName: queueName}
}

func (q *QueuedNotifier) NotifyAssignment(ctx context.Context, a Assignment) (*Receipt, error) {
	return q.enqueue(ctx, worker.JobTypeEmailNotification, a)
}

func (q *QueuedNotifier) NotifyPasswordReset(ctx context.Context, r PasswordReset) (*Receipt, error) {
	return q.enqueue(ctx, worker.JobTypePasswordReset, r)
}

func (q *QueuedNotifier) enqueue(ctx context.Context, jobType worker.JobType, payload interface{}) (*Receipt, error) {
	job, err := q.queue.Enqueue(ctx, q.queueName, jobType, payload)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		ID:      fmt.Sprintf("job_%s", job.ID),
		SentAt:  job.CreatedAt,
		Success: true,
		Queued:  true,
		Message: "Email notification queued",
	}, nil
}

// RegisterHandlers makes w deliver queued notifications through delivery.
func RegisterHandlers(w *worker.Worker, delivery Notifier) {
	w.RegisterHandler(worker.JobTypeEmailNotification, func(ctx context.Context, job *worker.Job) error {
		var a Assignment
		if err := job.Decode(&a); err != nil {
			return err
		}
		_, err := delivery.NotifyAssignment(ctx, a)
		return err
	})
	w.RegisterHandler(worker.JobTypePasswordReset, func(ctx context.Context, job *worker.Job) error {
		var r PasswordReset
		if err := job.Decode(&r); err != nil {
			return err
		}
		_, err := delivery.NotifyPasswordReset(ctx, r)
		return err
	})
}
