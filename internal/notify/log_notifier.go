package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// LogNotifier stands in for an email provider: it waits for the configured
// latency, logs the message and reports success.
type LogNotifier struct {
	logger  *logrus.Logger
	from    string
	latency time.Duration
	now     func() time.Time
}

func NewLogNotifier(logger *logrus.Logger, from string, latency time.Duration) *LogNotifier {
	return &LogNotifier{logger: logger, from: from, latency: latency, now: time.Now}
}

func (n *LogNotifier) NotifyAssignment(ctx context.Context, a Assignment) (*Receipt, error) {
	return n.send(ctx, AssignmentEmail(n.from, a), "Email notification sent successfully")
}

func (n *LogNotifier) NotifyPasswordReset(ctx context.Context, r PasswordReset) (*Receipt, error) {
	return n.send(ctx, PasswordResetEmail(n.from, r), "Password reset email sent successfully")
}

func (n *LogNotifier) send(ctx context.Context, email Email, message string) (*Receipt, error) {
	if email.To == "" {
		return nil, fmt.Errorf("missing recipient")
	}

	n.logger.WithFields(logrus.Fields{
		"to":      email.To,
		"subject": email.Subject,
		"from":    email.From,
	}).Infof("email notification\n%s", email.Body)

	if n.latency > 0 {
		timer := time.NewTimer(n.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	sent := n.now()
	return &Receipt{
		ID:      fmt.Sprintf("email_%d", sent.UnixNano()),
		SentAt:  sent,
		Success: true,
		Message: message,
	}, nil
}
