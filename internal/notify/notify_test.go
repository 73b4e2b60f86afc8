package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskflow/backend/internal/logging"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentEmail(t *testing.T) {
	deadline := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)

	email := AssignmentEmail("noreply@taskflow.com", Assignment{
		RecipientEmail: "a@x.com",
		Title:          "T",
		AssignerName:   "Admin",
		Details:        Details{Priority: models.PriorityHigh, Deadline: &deadline},
	})

	assert.Equal(t, "a@x.com", email.To)
	assert.Equal(t, "New Task Assigned: T", email.Subject)
	assert.Equal(t, "noreply@taskflow.com", email.From)
	assert.Contains(t, email.Body, "assigned a new task by Admin")
	assert.Contains(t, email.Body, "- Priority: high")
	assert.Contains(t, email.Body, "- Deadline: 2026-07-04")
	assert.Contains(t, email.Body, "- Status: Pending")
}

func TestAssignmentEmail_Defaults(t *testing.T) {
	email := AssignmentEmail("from@x.com", Assignment{RecipientEmail: "a@x.com", Title: "T"})

	assert.Contains(t, email.Body, "- Priority: medium")
	assert.Contains(t, email.Body, "- Deadline: No deadline set")
}

func TestLogNotifier_Receipt(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	fixed := time.Unix(1700000000, 42)
	n := NewLogNotifier(logger, "noreply@taskflow.com", 0)
	n.now = func() time.Time { return fixed }

	receipt, err := n.NotifyAssignment(context.Background(), Assignment{RecipientEmail: "a@x.com", Title: "T", AssignerName: "Admin"})
	require.NoError(t, err)

	assert.True(t, receipt.Success)
	assert.False(t, receipt.Queued)
	assert.Equal(t, "email_1700000000000000042", receipt.ID)
	assert.Equal(t, fixed, receipt.SentAt)
	assert.Contains(t, buf.String(), "New Task Assigned: T")
}

func TestLogNotifier_LatencyHonoursContext(t *testing.T) {
	n := NewLogNotifier(logging.Discard(), "from@x.com", time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := n.NotifyAssignment(ctx, Assignment{RecipientEmail: "a@x.com", Title: "T"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLogNotifier_MissingRecipient(t *testing.T) {
	n := NewLogNotifier(logging.Discard(), "from@x.com", 0)
	_, err := n.NotifyAssignment(context.Background(), Assignment{Title: "T"})
	assert.Error(t, err)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) NotifyAssignment(ctx context.Context, a Assignment) (*Receipt, error) {
	f.calls++
	return nil, errors.New("provider down")
}

func (f *failingNotifier) NotifyPasswordReset(ctx context.Context, r PasswordReset) (*Receipt, error) {
	f.calls++
	return nil, errors.New("provider down")
}

func TestBreakerNotifier_OpensAfterFailures(t *testing.T) {
	inner := &failingNotifier{}
	settings := DefaultBreakerSettings()
	settings.MaxFailures = 2
	b := NewBreakerNotifier(inner, settings, logging.Discard())

	for i := 0; i < 2; i++ {
		_, err := b.NotifyAssignment(context.Background(), Assignment{})
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.NotifyAssignment(context.Background(), Assignment{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls, "open breaker must not call through")
}

func TestBreakerNotifier_PassesReceipt(t *testing.T) {
	b := NewBreakerNotifier(NewLogNotifier(logging.Discard(), "from@x.com", 0), DefaultBreakerSettings(), logging.Discard())

	receipt, err := b.NotifyPasswordReset(context.Background(), PasswordReset{RecipientEmail: "a@x.com", Link: "http://x/reset?oobCode=1"})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.True(t, strings.HasPrefix(receipt.ID, "email_"))
}

type recordingNotifier struct {
	assignments chan Assignment
}

func (r *recordingNotifier) NotifyAssignment(ctx context.Context, a Assignment) (*Receipt, error) {
	r.assignments <- a
	return &Receipt{Success: true}, nil
}

func (r *recordingNotifier) NotifyPasswordReset(ctx context.Context, p PasswordReset) (*Receipt, error) {
	return &Receipt{Success: true}, nil
}

func TestQueuedNotifier_DeliveredByWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewQueuedNotifier(worker.NewJobQueue(client, 3), "notifications")
	receipt, err := q.NotifyAssignment(context.Background(), Assignment{RecipientEmail: "a@x.com", Title: "T", AssignerName: "Admin"})
	require.NoError(t, err)
	assert.True(t, receipt.Queued)
	assert.True(t, strings.HasPrefix(receipt.ID, "job_"))

	w := worker.NewWorker(worker.WorkerConfig{
		RedisClient:  client,
		Logger:       logging.Discard(),
		PollInterval: 50 * time.Millisecond,
		Queues:       []string{"notifications"},
	})
	rec := &recordingNotifier{assignments: make(chan Assignment, 1)}
	RegisterHandlers(w, rec)
	w.Start(1)
	defer w.Stop()

	select {
	case a := <-rec.assignments:
		assert.Equal(t, "a@x.com", a.RecipientEmail)
		assert.Equal(t, "Admin", a.AssignerName)
	case <-time.After(3 * time.Second):
		t.Fatal("queued notification was not delivered")
	}
}
