package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResolutionEventRecord is the transactional-outbox row for a finalized
// deal linkage. It is written inside the caller's DB transaction; actual
// publication to Pub/Sub happens asynchronously in the outbox dispatcher
// after commit.
type ResolutionEventRecord struct {
	ID            int                   `gorm:"primary_key;index:idx_resolution_outbox,priority:3" json:"id"`
	BusinessId    string                `gorm:"size:64;not null;index" json:"business_id"`
	DealId        int                   `gorm:"index;not null" json:"deal_id"`
	CompanyId     int                   `gorm:"not null" json:"company_id"`
	ContactId     int                   `gorm:"not null" json:"contact_id"`
	Action        ResolutionEventAction `gorm:"size:40;not null" json:"action"`
	RunId         string                `gorm:"size:36;index" json:"run_id"`
	EventTime     time.Time             `gorm:"index;not null" json:"event_time"`
	PublishStatus OutboxPublishStatus   `gorm:"size:20;index;not null;default:'PENDING';index:idx_resolution_outbox,priority:1" json:"publish_status"`

	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_resolution_outbox,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishResolutionEvent writes the outbox row inside the caller's DB
// transaction but does NOT publish to Pub/Sub; the dispatcher does that
// after commit.
func PublishResolutionEvent(ctx context.Context, tx *gorm.DB, businessId string, dealId, companyId, contactId int, runId string, action ResolutionEventAction) error {
	record := ResolutionEventRecord{
		BusinessId:    businessId,
		DealId:        dealId,
		CompanyId:     companyId,
		ContactId:     contactId,
		Action:        action,
		RunId:         runId,
		EventTime:     time.Now().UTC(),
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.WithContext(ctx).Create(&record).Error
}

func ConvertToResolutionEventMessage(record ResolutionEventRecord) config.ResolutionEventMessage {
	return config.ResolutionEventMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		EventTime:     record.EventTime,
		DealId:        record.DealId,
		CompanyId:     record.CompanyId,
		ContactId:     record.ContactId,
		Action:        string(record.Action),
		RunId:         record.RunId,
		CorrelationId: record.CorrelationId,
	}
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
