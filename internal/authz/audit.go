package authz

import (
	"context"
	"sync"
	"time"

	"taskflow/backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Decision is one authorization outcome, with enough request detail to
// explain it later.
type Decision struct {
	Session    *Session
	Capability Capability
	ResourceID string
	Allowed    bool
	Reason     string
	IPAddress  string
	UserAgent  string
	Method     string
	Path       string
	At         time.Time
}

func (d Decision) record() models.AuditLog {
	entry := models.AuditLog{
		Capability:    string(d.Capability),
		ResourceID:    d.ResourceID,
		Decision:      DecisionDeny,
		Reason:        d.Reason,
		IPAddress:     d.IPAddress,
		UserAgent:     d.UserAgent,
		RequestMethod: d.Method,
		RequestPath:   d.Path,
		Timestamp:     d.At.UTC(),
	}
	if d.Allowed {
		entry.Decision = DecisionAllow
	}
	if d.Session != nil {
		entry.UserID = d.Session.UserID
		entry.Role = d.Session.Role()
	}
	return entry
}

// Auditor writes decisions to audit_logs from a background goroutine so
// request handling never waits on the insert. Decisions that do not fit in
// the buffer are dropped and logged.
type Auditor struct {
	db     *gorm.DB
	logger *logrus.Logger
	queue  chan models.AuditLog
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewAuditor(db *gorm.DB, logger *logrus.Logger, buffer int) *Auditor {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Auditor{
		db:     db,
		logger: logger,
		queue:  make(chan models.AuditLog, buffer),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Auditor) Record(d Decision) {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- d.record():
	default:
		a.logger.WithField("capability", d.Capability).Warn("audit queue full, dropping decision")
	}
}

func (a *Auditor) run() {
	defer a.wg.Done()
	for entry := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
			a.logger.WithError(err).WithField("capability", entry.Capability).Error("failed to write audit log")
		}
		cancel()
	}
}

// Close drains the queue and waits for pending writes.
func (a *Auditor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

// Recent returns the newest audit entries, for operators.
func (a *Auditor) Recent(ctx context.Context, limit int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := a.db.WithContext(ctx).Order("timestamp DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
