package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/songforge/songforge/internal/models"
)

// apiKeyRepo implements ApiKeyRepository using GORM.
type apiKeyRepo struct {
	db *gorm.DB
}

// NewApiKeyRepository creates a new ApiKeyRepository.
func NewApiKeyRepository(db *gorm.DB) *apiKeyRepo {
	return &apiKeyRepo{db: db}
}

// Create inserts an API key.
func (r *apiKeyRepo) Create(ctx context.Context, key *models.ApiKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}
	return nil
}

// GetByKey retrieves a key by its bearer value.
func (r *apiKeyRepo) GetByKey(ctx context.Context, key string) (*models.ApiKey, error) {
	var apiKey models.ApiKey
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&apiKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting API key: %w", err)
	}
	return &apiKey, nil
}

// EnsureKey inserts the key if no row with the same bearer value exists and
// returns the stored row either way.
func (r *apiKeyRepo) EnsureKey(ctx context.Context, key *models.ApiKey) (*models.ApiKey, error) {
	existing, err := r.GetByKey(ctx, key.Key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if err := r.Create(ctx, key); err != nil {
		// Concurrent boot may have inserted it between lookup and create.
		if isUniqueViolation(err) {
			return r.GetByKey(ctx, key.Key)
		}
		return nil, err
	}
	return key, nil
}

var _ ApiKeyRepository = (*apiKeyRepo)(nil)
