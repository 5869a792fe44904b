package models

import "time"

// Setting is a key/value pair, optionally scoped (empty scope = global).
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Scope     string    `gorm:"size:255;not null;default:'';uniqueIndex:idx_setting_scope_key" json:"scope,omitempty"`
	Key       string    `gorm:"size:255;not null;uniqueIndex:idx_setting_scope_key" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}
