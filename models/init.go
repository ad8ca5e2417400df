package models

import (
	"gorm.io/gorm"
)

// Migrate runs auto-migration for every persisted entity.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Sender{},
		&Lead{},
		&Sequence{},
		&SequenceStep{},
		&StepVariant{},
		&SequenceSender{},
		&Enrollment{},
		&SendRecord{},
		&SendClick{},
		&Thread{},
		&ThreadMessage{},
		&Suppression{},
	)
}
