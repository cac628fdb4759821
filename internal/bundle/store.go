// Package bundle exposes the peer-delivered application bundle as a
// read-only asset store. A device that received the app from a nearby peer
// instead of the network serves itself entirely from this store, so every
// navigation and same-origin static fetch consults it before any caching
// strategy runs.
package bundle

import (
	"context"

	"github.com/meshchat/liferaft/internal/datastore/repository"
	"github.com/meshchat/liferaft/internal/errors"
	"github.com/meshchat/liferaft/internal/logger"
)

// StoredAsset is a detached copy of one bundle entry. Content never
// aliases the store's backing buffer.
type StoredAsset struct {
	Path     string
	Content  []byte
	MIMEType string
	Size     int64
}

// Store reads bundle assets. Population is the transfer component's job;
// this core only consumes.
type Store struct {
	repo repository.BundleRepository
	log  logger.Logger
}

// NewStore creates a bundle Store over the given repository.
func NewStore(repo repository.BundleRepository, log logger.Logger) *Store {
	return &Store{repo: repo, log: log}
}

// Lookup returns the asset stored under path, or (nil, nil) on a miss.
// The returned Content is a fresh copy so callers cannot mutate the
// stored bytes. Storage failures degrade to a miss.
func (s *Store) Lookup(ctx context.Context, path string) (*StoredAsset, error) {
	asset, err := s.repo.GetAsset(ctx, path)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return nil, nil
		}
		s.log.Warn("bundle lookup failed, treating as miss",
			logger.String("path", path),
			logger.Error(err))
		return nil, nil
	}
	content := make([]byte, len(asset.Content))
	copy(content, asset.Content)
	return &StoredAsset{
		Path:     asset.Path,
		Content:  content,
		MIMEType: asset.MIMEType,
		Size:     asset.Size,
	}, nil
}

// HasBundle reports whether any bundle assets are stored. Storage failures
// report false rather than erroring, so CHECK_BUNDLE stays a safe query.
func (s *Store) HasBundle(ctx context.Context) bool {
	ok, err := s.repo.HasAssets(ctx)
	if err != nil {
		s.log.Warn("bundle status check failed", logger.Error(err))
		return false
	}
	return ok
}
