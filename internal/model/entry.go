package model

import (
	"gorm.io/gorm"
)

// Entry is one key of the local device store. Value holds the encoded
// payload; Compression names the codec that produced it.
type Entry struct {
	gorm.Model
	Key         string `gorm:"column:entry_key;uniqueIndex;not null"`
	Value       []byte `gorm:"not null"`
	Compression string
}

func (Entry) TableName() string {
	return "local_entries"
}

func GetEntry(db *gorm.DB, key string) (*Entry, error) {
	entry := &Entry{}
	err := db.Where("entry_key = ?", key).First(entry).Error
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// SaveEntry inserts the entry or overwrites the value stored under its key.
func SaveEntry(db *gorm.DB, entry *Entry) error {
	existing := &Entry{}
	err := db.Where("entry_key = ?", entry.Key).Limit(1).Find(existing).Error
	if err != nil {
		return err
	}

	if existing.ID == 0 {
		return db.Create(entry).Error
	}

	return db.Model(existing).Updates(map[string]any{
		"value":       entry.Value,
		"compression": entry.Compression,
	}).Error
}

func DeleteEntry(db *gorm.DB, key string) error {
	return db.Unscoped().Where("entry_key = ?", key).Delete(&Entry{}).Error
}
