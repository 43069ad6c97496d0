package db

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/rental-chat/internal/chat"
)

// Connect opens the MySQL connection and exits the process on failure.
func Connect(dsn string) *gorm.DB {
	gdb, err := Open(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	return gdb
}

func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	return gdb, nil
}

// Migrate creates or updates the chat tables.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&chat.Session{}, &chat.Message{}, &chat.Job{}); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
