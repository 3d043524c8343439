// Package audit persists an append-only trail of registry mutations,
// decoupled from request latency by a bounded buffer.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medscreen/screening-registry/config"
	"github.com/medscreen/screening-registry/internal/record"
	"github.com/medscreen/screening-registry/pkg/metrics"
)

type Entry struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OccurredAt time.Time `gorm:"column:occurred_at;autoCreateTime;index"`

	ActorID      uuid.UUID `gorm:"column:actor_id;type:uuid;index"`
	ActorName    string    `gorm:"column:actor_name;type:varchar(200)"`
	Action       string    `gorm:"column:action;type:varchar(20);not null;index"`
	ResourceType string    `gorm:"column:resource_type;type:varchar(50);not null;index"`
	ResourceID   string    `gorm:"column:resource_id;type:varchar(50);index"`
}

func (Entry) TableName() string {
	return "audit.entries"
}

type Recorder struct {
	db      *gorm.DB
	log     *zap.Logger
	met     *metrics.Collector
	timeout time.Duration
	entries chan *Entry
	done    chan struct{}
}

func NewRecorder(db *gorm.DB, cfg config.AuditConfig, log *zap.Logger, met *metrics.Collector) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		db:      db,
		log:     log,
		met:     met,
		timeout: cfg.ShutdownTimeout,
		entries: make(chan *Entry, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go r.worker()
	return r
}

// Record enqueues an audit entry for async persistence. If the buffer is
// full, the entry is dropped and a warning is emitted.
func (r *Recorder) Record(actor record.Identity, action, resourceType, resourceID string) {
	entry := &Entry{
		ID:           uuid.New(),
		ActorID:      actor.ID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if a := actor.Snapshot(); a != nil {
		entry.ActorName = a.FirstName + " " + a.LastName
	}

	select {
	case r.entries <- entry:
	default:
		if r.met != nil {
			r.met.AuditBufferDropped.Inc()
		}
		r.log.Warn("audit buffer full, dropping entry",
			zap.String("action", action),
			zap.String("resource", resourceType),
		)
	}
}

func (r *Recorder) Shutdown() {
	close(r.entries)
	select {
	case <-r.done:
	case <-time.After(r.timeout):
		r.log.Warn("audit recorder shutdown timed out; some entries may be lost")
	}
}

func (r *Recorder) worker() {
	defer close(r.done)
	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
			r.log.Error("failed to persist audit entry", zap.Error(err))
		} else if r.met != nil {
			r.met.AuditEntriesTotal.Inc()
		}
		cancel()
	}
}
