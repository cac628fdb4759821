package entities

import "time"

// BundleAsset is one file of a peer-delivered application bundle, keyed by
// its request path. Content is written wholesale by the transfer component
// and never partially updated.
type BundleAsset struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Path          string    `gorm:"size:512;not null;uniqueIndex" json:"path"`
	Content       []byte    `gorm:"not null" json:"-"`
	MIMEType      string    `gorm:"size:255;not null" json:"mime_type"`
	Size          int64     `gorm:"not null" json:"size"`
	BundleVersion string    `gorm:"size:64;default:'';index" json:"bundle_version"`
	BundleHash    string    `gorm:"size:128;default:''" json:"bundle_hash"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (BundleAsset) TableName() string {
	return "bundle_assets"
}
