// Package notification persists user-facing billing notices. Delivery
// is out of scope here; rows are read by the outer platform's inbox.
package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const TypeInternal = "internal"

type Notification struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           int64        `gorm:"not null;index"`
	Message          string       `gorm:"type:text;not null"`
	NotificationType string       `gorm:"type:text;not null;default:'internal'"`
	IsRead           bool         `gorm:"not null;default:false"`
	CreatedAt        time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
	}
}

// Notify stores an internal notification. Callers treat it as
// fire-and-forget; a failed insert is logged but never propagated.
func (s *Service) Notify(ctx context.Context, userID int64, message string) {
	if s == nil || userID == 0 || message == "" {
		return
	}

	record := Notification{
		ID:               s.genID.Generate(),
		UserID:           userID,
		Message:          message,
		NotificationType: TypeInternal,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.log.Warn("notification insert failed",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}

// Unread returns the user's unread notifications, newest first.
func (s *Service) Unread(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []Notification
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

var Module = fx.Module("notification",
	fx.Provide(NewService),
)
