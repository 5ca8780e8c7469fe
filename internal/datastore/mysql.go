package datastore

import (
	"fmt"
	"net"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// MySQLStore implements DataStore for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	cfg := settings.Output.MySQL
	if cfg.Host == "" || cfg.Database == "" || cfg.Username == "" {
		return errors.Newf("MySQL host, database and username are required").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// mysqlDSN builds the driver DSN; FormatDSN escapes passwords containing
// DSN delimiters
func mysqlDSN(cfg conf.MySQLSettings) string {
	port := cfg.Port
	if port == "" {
		port = "3306"
	}
	dc := gomysql.NewConfig()
	dc.User = cfg.Username
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(cfg.Host, port)
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// Open connects to MySQL and migrates the schema.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	cfg := store.Settings.Output.MySQL
	db, err := gorm.Open(mysql.Open(mysqlDSN(cfg)), gormConfig(store.Settings.Debug))
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return dbError(err, "open_mysql").Context("host", cfg.Host).Build()
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	store.DB = db
	return performAutoMigration(db, "MySQL", fmt.Sprintf("%s@%s/%s", cfg.Username, cfg.Host, cfg.Database))
}

// Close closes the MySQL connection pool.
func (store *MySQLStore) Close() error {
	if store.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}

	sqlDB, err := store.DB.DB()
	if err != nil {
		return dbError(err, "close_mysql").Build()
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close_mysql").Build()
	}

	if store.Settings.Debug {
		GetLogger().Debug("MySQL database connection closed")
	}
	store.DB = nil
	return nil
}
