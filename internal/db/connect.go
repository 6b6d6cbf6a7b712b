package db

import (
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/listingdesk/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a go-sql-driver DSN for the configured MySQL server.
func MySQLDSN(c config.DatabaseConfig) string {
	mc := gomysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.Name
	mc.ParseTime = true
	return mc.FormatDSN()
}

// PostgresDSN builds a keyword/value DSN understood by pgx.
func PostgresDSN(c config.DatabaseConfig) string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Name, c.SSLMode)
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	return dsn
}

// Dialector returns the gorm dialector for the configured driver.
func Dialector(c config.DatabaseConfig) (gorm.Dialector, error) {
	switch c.Driver {
	case "mysql":
		return mysql.Open(MySQLDSN(c)), nil
	case "postgres":
		return postgres.Open(PostgresDSN(c)), nil
	case "sqlite":
		return sqlite.Open(c.Path), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
}

// Connect opens a GORM connection to the configured database. Duplicate
// key errors are translated to gorm.ErrDuplicatedKey so callers can treat
// idempotency-key collisions uniformly across drivers.
func Connect(c config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(c)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s %s: %w", c.Driver, target(c), err)
	}
	return db, nil
}

// target describes the connection target for error messages without
// leaking credentials.
func target(c config.DatabaseConfig) string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.Name)
}
