package entities

import "time"

// StateEntry is a persisted scalar keyed by name. The update checker keeps
// its last-check timestamp and dismissed version here. Writes are
// last-writer-wins; a single gateway process owns the database.
type StateEntry struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"size:512;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (StateEntry) TableName() string {
	return "state_entries"
}
