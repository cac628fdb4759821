// Package repository defines the storage interfaces the rest of liferaft
// consumes, decoupled from their gorm implementations for testability.
package repository

import (
	"context"
	"errors"

	"github.com/meshchat/liferaft/internal/datastore/entities"
)

// ErrAssetNotFound is returned when no bundle asset exists for a path.
var ErrAssetNotFound = errors.New("bundle asset not found")

// ErrStateNotFound is returned when a state key has never been written.
var ErrStateNotFound = errors.New("state entry not found")

// BundleRepository stores peer-delivered application bundle assets.
// This core only reads; the transfer component writes.
type BundleRepository interface {
	GetAsset(ctx context.Context, path string) (*entities.BundleAsset, error)
	HasAssets(ctx context.Context) (bool, error)
	CountAssets(ctx context.Context) (int64, error)
	// ReplaceBundle atomically swaps the stored bundle for a new one.
	// Used by the external transfer component, kept here so a single
	// transaction owns the wholesale write.
	ReplaceBundle(ctx context.Context, ver, hash string, assets []entities.BundleAsset) error
}

// StateRepository persists named scalar values.
type StateRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
