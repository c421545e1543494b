package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/songforge/songforge/internal/models"
)

// assetRepo implements AssetRepository using GORM.
type assetRepo struct {
	db *gorm.DB
}

// NewAssetRepository creates a new AssetRepository.
func NewAssetRepository(db *gorm.DB) *assetRepo {
	return &assetRepo{db: db}
}

// Create inserts an asset row.
func (r *assetRepo) Create(ctx context.Context, asset *models.Asset) error {
	if err := r.db.WithContext(ctx).Create(asset).Error; err != nil {
		return fmt.Errorf("creating asset: %w", err)
	}
	return nil
}

// CreateBatch inserts multiple asset rows in one statement.
func (r *assetRepo) CreateBatch(ctx context.Context, assets []*models.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(assets).Error; err != nil {
		return fmt.Errorf("creating assets: %w", err)
	}
	return nil
}

// GetByID retrieves an asset by ID.
func (r *assetRepo) GetByID(ctx context.Context, id models.ULID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting asset by ID: %w", err)
	}
	return &asset, nil
}

// GetByJobID retrieves all assets produced by a job.
func (r *assetRepo) GetByJobID(ctx context.Context, jobID models.ULID) ([]*models.Asset, error) {
	var assets []*models.Asset
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("getting assets by job ID: %w", err)
	}
	return assets, nil
}

// GetByJobIDs retrieves assets for a set of jobs in one query.
func (r *assetRepo) GetByJobIDs(ctx context.Context, jobIDs []models.ULID) ([]*models.Asset, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	var assets []*models.Asset
	if err := r.db.WithContext(ctx).
		Where("job_id IN ?", jobIDs).
		Order("created_at ASC").
		Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("getting assets by job IDs: %w", err)
	}
	return assets, nil
}

var _ AssetRepository = (*assetRepo)(nil)
