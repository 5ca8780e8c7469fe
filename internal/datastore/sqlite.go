package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
)

// SQLiteStore implements DataStore for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

func validateSQLiteConfig(settings *conf.Settings) error {
	if settings.Output.SQLite.Path == "" {
		return errors.Newf("SQLite path is empty").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Open creates the database file if needed and migrates the schema.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return err
	}

	path := store.Settings.Output.SQLite.Path
	if path != ":memory:" {
		path = store.Settings.ResolveDataPath(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
	}

	// WAL keeps API readers from blocking the batch writer
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(store.Settings.Debug))
	if err != nil {
		return dbError(err, "open_sqlite").Context("path", path).Build()
	}

	// a single writer avoids "database is locked" under concurrent updates
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	store.DB = db
	return performAutoMigration(db, "SQLite", path)
}

// Close closes the SQLite database connection.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}

	sqlDB, err := store.DB.DB()
	if err != nil {
		return dbError(err, "close_sqlite").Build()
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close_sqlite").Build()
	}

	store.DB = nil
	return nil
}
