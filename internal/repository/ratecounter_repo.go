package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/songforge/songforge/internal/models"
)

// rateCounterRepo implements RateCounterRepository using GORM.
type rateCounterRepo struct {
	db *gorm.DB
}

// NewRateCounterRepository creates a new RateCounterRepository.
func NewRateCounterRepository(db *gorm.DB) *rateCounterRepo {
	return &rateCounterRepo{db: db}
}

// TryAdmit atomically increments the key's counter for the current UTC minute
// window via an upsert. When the post-increment count exceeds the limit the
// increment is rolled back so a rejected request consumes no budget.
func (r *rateCounterRepo) TryAdmit(ctx context.Context, apiKeyID models.ULID, limit int, now time.Time) (bool, error) {
	windowStart := models.WindowStart(now)
	admitted := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := models.RateCounter{
			APIKeyID:      apiKeyID,
			WindowStartMS: windowStart,
			Tokens:        1,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "api_key_id"}, {Name: "window_start_ms"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"tokens": gorm.Expr("tokens + 1"),
			}),
		}).Create(&counter).Error; err != nil {
			return fmt.Errorf("incrementing rate counter: %w", err)
		}

		var tokens int
		if err := tx.Model(&models.RateCounter{}).
			Select("tokens").
			Where("api_key_id = ? AND window_start_ms = ?", apiKeyID, windowStart).
			Scan(&tokens).Error; err != nil {
			return fmt.Errorf("reading rate counter: %w", err)
		}

		if tokens > limit {
			if err := tx.Model(&models.RateCounter{}).
				Where("api_key_id = ? AND window_start_ms = ?", apiKeyID, windowStart).
				UpdateColumn("tokens", gorm.Expr("tokens - 1")).Error; err != nil {
				return fmt.Errorf("rolling back rate counter: %w", err)
			}
			return nil
		}

		admitted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return admitted, nil
}

// DeleteOld removes counter windows that started before the given time.
func (r *rateCounterRepo) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("window_start_ms < ?", before.UTC().UnixMilli()).
		Delete(&models.RateCounter{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting old rate counters: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var _ RateCounterRepository = (*rateCounterRepo)(nil)
