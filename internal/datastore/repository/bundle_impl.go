package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/meshchat/liferaft/internal/datastore/entities"
	"github.com/meshchat/liferaft/internal/errors"
)

// bundleRepository implements BundleRepository over gorm.
type bundleRepository struct {
	db *gorm.DB
}

// NewBundleRepository creates a BundleRepository.
func NewBundleRepository(db *gorm.DB) BundleRepository {
	return &bundleRepository{db: db}
}

// GetAsset returns the asset stored under path.
// Returns ErrAssetNotFound when the path has no entry.
func (r *bundleRepository) GetAsset(ctx context.Context, path string) (*entities.BundleAsset, error) {
	var asset entities.BundleAsset
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get bundle asset %q: %w", path, err)
	}
	return &asset, nil
}

// HasAssets reports whether any bundle asset is stored.
func (r *bundleRepository) HasAssets(ctx context.Context) (bool, error) {
	count, err := r.CountAssets(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountAssets returns the number of stored bundle assets.
func (r *bundleRepository) CountAssets(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.BundleAsset{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count bundle assets: %w", err)
	}
	return count, nil
}

// ReplaceBundle swaps the stored bundle wholesale inside one transaction so
// readers never observe a half-written bundle.
func (r *bundleRepository) ReplaceBundle(ctx context.Context, ver, hash string, assets []entities.BundleAsset) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&entities.BundleAsset{}).Error; err != nil {
			return fmt.Errorf("failed to clear old bundle: %w", err)
		}
		for i := range assets {
			assets[i].ID = 0
			assets[i].BundleVersion = ver
			assets[i].BundleHash = hash
			assets[i].Size = int64(len(assets[i].Content))
		}
		if len(assets) == 0 {
			return nil
		}
		if err := tx.Create(&assets).Error; err != nil {
			return fmt.Errorf("failed to store bundle assets: %w", err)
		}
		return nil
	})
}
