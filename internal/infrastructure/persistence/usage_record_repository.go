package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/domain/shared"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriberUsageModel is the persistence model of quota.UsageRecord
type SubscriberUsageModel struct {
	SubscriberID          string    `gorm:"type:varchar(128);primaryKey"`
	TierID                string    `gorm:"type:varchar(32);not null;index"`
	TextQueries           int       `gorm:"not null;default:0"`
	PhotoAnalysis         int       `gorm:"not null;default:0"`
	ExplainerQueries      int       `gorm:"not null;default:0"`
	SubscriptionStartDate time.Time `gorm:"not null"`
	CycleStartedAt        time.Time `gorm:"not null"`
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SubscriberUsageModel) TableName() string {
	return "subscriber_usage"
}

// ToEntity converts the model to a domain record with times in UTC
func (m *SubscriberUsageModel) ToEntity() *quota.UsageRecord {
	return &quota.UsageRecord{
		SubscriberID:          m.SubscriberID,
		TierID:                m.TierID,
		TextQueries:           m.TextQueries,
		PhotoAnalysis:         m.PhotoAnalysis,
		ExplainerQueries:      m.ExplainerQueries,
		SubscriptionStartDate: m.SubscriptionStartDate.UTC(),
		CycleStartedAt:        m.CycleStartedAt.UTC(),
		CreatedAt:             m.CreatedAt.UTC(),
		UpdatedAt:             m.UpdatedAt.UTC(),
	}
}

// SubscriberUsageModelFromEntity converts a domain record to the model.
// Times are stored in UTC so cycle comparisons match on every driver.
func SubscriberUsageModelFromEntity(r *quota.UsageRecord) *SubscriberUsageModel {
	return &SubscriberUsageModel{
		SubscriberID:          r.SubscriberID,
		TierID:                r.TierID,
		TextQueries:           r.TextQueries,
		PhotoAnalysis:         r.PhotoAnalysis,
		ExplainerQueries:      r.ExplainerQueries,
		SubscriptionStartDate: r.SubscriptionStartDate.UTC(),
		CycleStartedAt:        r.CycleStartedAt.UTC(),
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
}

// counterColumn maps an action to its counter column. The returned name is
// interpolated into SQL, so only these constants may ever be returned.
func counterColumn(action quota.ActionType) (string, error) {
	switch action {
	case quota.ActionTextQuery:
		return "text_queries", nil
	case quota.ActionPhotoAnalysis:
		return "photo_analysis", nil
	case quota.ActionExplainer:
		return "explainer_queries", nil
	}
	return "", fmt.Errorf("no counter for action %q", action)
}

// GormUsageStore implements quota.UsageStore on a SQL database
type GormUsageStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormUsageStore creates a new GormUsageStore
func NewGormUsageStore(db *gorm.DB) *GormUsageStore {
	return &GormUsageStore{db: db, now: time.Now}
}

// Create inserts a record; an existing subscriber yields shared.ErrAlreadyExists
func (s *GormUsageStore) Create(ctx context.Context, record *quota.UsageRecord) error {
	model := SubscriberUsageModelFromEntity(record)
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return fmt.Errorf("insert usage record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrAlreadyExists
	}
	return nil
}

// Get loads a record by subscriber id
func (s *GormUsageStore) Get(ctx context.Context, subscriberID string) (*quota.UsageRecord, error) {
	return s.get(s.db.WithContext(ctx), subscriberID)
}

func (s *GormUsageStore) get(db *gorm.DB, subscriberID string) (*quota.UsageRecord, error) {
	var model SubscriberUsageModel
	if err := db.Where("subscriber_id = ?", subscriberID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("load usage record: %w", err)
	}
	return model.ToEntity(), nil
}

// TryConsume increments the counter in a conditional UPDATE so the limit
// check and the increment happen in one statement. The row lock taken by
// the UPDATE keeps the follow-up read consistent.
func (s *GormUsageStore) TryConsume(ctx context.Context, subscriberID string, action quota.ActionType, limit int) (quota.ConsumeResult, error) {
	col, err := counterColumn(action)
	if err != nil {
		return quota.ConsumeResult{}, err
	}

	var res quota.ConsumeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&SubscriberUsageModel{}).
			Where("subscriber_id = ? AND "+col+" < ?", subscriberID, limit).
			Updates(map[string]any{
				col:          gorm.Expr(col + " + 1"),
				"updated_at": s.now(),
			})
		if upd.Error != nil {
			return fmt.Errorf("increment %s: %w", col, upd.Error)
		}

		record, err := s.get(tx, subscriberID)
		if err != nil {
			return err
		}
		res = quota.ConsumeResult{Allowed: upd.RowsAffected == 1, Used: record.Count(action)}
		return nil
	})
	if err != nil {
		return quota.ConsumeResult{}, err
	}
	return res, nil
}

// UpdateTier points the record at another tier
func (s *GormUsageStore) UpdateTier(ctx context.Context, subscriberID, tierID string) error {
	return s.update(ctx, subscriberID, map[string]any{
		"tier_id":    tierID,
		"updated_at": s.now(),
	})
}

// ResetCycle starts the next cycle with an UPDATE guarded on the current
// cycle start. No affected rows means either a concurrent rollover won or
// the subscriber does not exist.
func (s *GormUsageStore) ResetCycle(ctx context.Context, subscriberID string, expected, next time.Time) (bool, error) {
	db := s.db.WithContext(ctx)
	result := db.Model(&SubscriberUsageModel{}).
		Where("subscriber_id = ? AND cycle_started_at = ?", subscriberID, expected.UTC()).
		Updates(map[string]any{
			"text_queries":      0,
			"photo_analysis":    0,
			"explainer_queries": 0,
			"cycle_started_at":  next.UTC(),
			"updated_at":        s.now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("reset usage cycle: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := db.Model(&SubscriberUsageModel{}).Where("subscriber_id = ?", subscriberID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check usage record: %w", err)
	}
	if count == 0 {
		return false, shared.ErrNotFound
	}
	return false, nil
}

func (s *GormUsageStore) update(ctx context.Context, subscriberID string, values map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&SubscriberUsageModel{}).
		Where("subscriber_id = ?", subscriberID).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("update usage record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// List returns all records ordered by subscriber id
func (s *GormUsageStore) List(ctx context.Context) ([]*quota.UsageRecord, error) {
	var models []SubscriberUsageModel
	if err := s.db.WithContext(ctx).Order("subscriber_id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	records := make([]*quota.UsageRecord, len(models))
	for i := range models {
		records[i] = models[i].ToEntity()
	}
	return records, nil
}

var _ quota.UsageStore = (*GormUsageStore)(nil)
