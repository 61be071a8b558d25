package database

import (
	"changerequest/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		logrus.WithError(err).Warn("auto-migrate failed")
	}

	return db, nil
}

// Migrate creates or updates the schema for every tracked entity plus the
// change request audit table. Also used by tests against sqlite.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Person{},
		&model.Book{},
		&model.BookChapter{},
		&model.ChangeRequest{},
	)
}
