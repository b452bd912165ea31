package database

import (
	"errors"
	"strings"

	"cosmicwatch/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errEmptyKey = errors.New("empty setting key")

// SettingsStorage is durable key/value storage on the app_settings table.
// It satisfies core.Storage.
type SettingsStorage struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSettingsStorage(db *Database) *SettingsStorage {
	return &SettingsStorage{db: db.Gorm, log: db.log.Named("settings")}
}

// Lookup returns a setting. ok is false when the key does not exist.
func (s *SettingsStorage) Lookup(key string) (value string, ok bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errEmptyKey
	}

	var row models.AppSetting
	if err := s.db.First(&row, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return row.Value, true, nil
}

// Get returns a setting; lookup failures read as a missing key.
func (s *SettingsStorage) Get(key string) (string, bool) {
	value, ok, err := s.Lookup(key)
	if err != nil {
		s.log.Warn("setting lookup failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return value, ok
}

// Set stores a setting, replacing any previous value.
func (s *SettingsStorage) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errEmptyKey
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.AppSetting{Key: key, Value: value}).Error
}

// Remove deletes a setting if it exists.
func (s *SettingsStorage) Remove(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errEmptyKey
	}
	return s.db.Where("key = ?", key).Delete(&models.AppSetting{}).Error
}

// Keys lists the stored keys, sorted.
func (s *SettingsStorage) Keys() ([]string, error) {
	var keys []string
	err := s.db.Model(&models.AppSetting{}).Order("key").Pluck("key", &keys).Error
	return keys, err
}
