package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
)

type repository struct{}

func Provide() paymentdomain.Repository {
	return &repository{}
}

func (r *repository) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*paymentdomain.EventRecord, error) {
	var record paymentdomain.EventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// InsertEvent claims the event for processing. The insert-or-skip on
// the (provider, provider_event_id) unique key is what makes webhook
// redelivery safe; the bool reports whether this call won the claim.
func (r *repository) InsertEvent(ctx context.Context, db *gorm.DB, event *paymentdomain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (id, provider, provider_event_id, event_type, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		processedAt,
		id,
	).Error
}
