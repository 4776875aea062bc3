package models

import (
	"log"

	"github.com/boilerfuel/menu_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Food{},
		&MenuSnapshot{},
		&MenuSyncRun{}, &MenuSyncError{},
	)
}
