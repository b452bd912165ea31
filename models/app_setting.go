package models

import "time"

// AppSetting is one key/value row of durable storage.
// Persisted queues, credentials and questionnaire answers all live here.
type AppSetting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
