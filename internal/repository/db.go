package repository

import (
	"fmt"

	applogger "github.com/ClareAI/astra-sip-agent/pkg/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB opens the SQLite call journal and runs migrations. SQL statements
// are routed through the application logger.
func NewDB(path string) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		applogger.NewGORMWriter(),
		gormlogger.Config{LogLevel: gormlogger.Warn},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
