package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerNotifier guards another notifier with a circuit breaker that opens
// after consecutive delivery failures.
type BreakerNotifier struct {
	next Notifier
	cb   *gobreaker.CircuitBreaker
}

type BreakerSettings struct {
	Name             string
	MaxFailures      uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "NotificationCB",
		MaxFailures:      3,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

func NewBreakerNotifier(next Notifier, settings BreakerSettings, logger *logrus.Logger) *BreakerNotifier {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return &BreakerNotifier{next: next, cb: cb}
}

func (b *BreakerNotifier) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerNotifier) NotifyAssignment(ctx context.Context, a Assignment) (*Receipt, error) {
	return b.execute(func() (*Receipt, error) { return b.next.NotifyAssignment(ctx, a) })
}

func (b *BreakerNotifier) NotifyPasswordReset(ctx context.Context, r PasswordReset) (*Receipt, error) {
	return b.execute(func() (*Receipt, error) { return b.next.NotifyPasswordReset(ctx, r) })
}

func (b *BreakerNotifier) execute(fn func() (*Receipt, error)) (*Receipt, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return out.(*Receipt), nil
}
