package db

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kidride-backend/internal/config"
)

// Open открывает gorm поверх PostgreSQL. Ошибки драйвера переводятся в ошибки gorm (gorm.ErrDuplicatedKey).
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		TranslateError: true,
	})
}

// ConnectWithRetry подключается к PostgreSQL, повторяя попытки, пока база поднимается
func ConnectWithRetry(cfg *config.Config, maxAttempts int, delay time.Duration) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for i := 0; i < maxAttempts; i++ {
		db, err = Open(cfg.DSN())
		if err == nil {
			// Настройка пула соединений с БД
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("не удалось получить доступ к sql.DB: %w", err)
			}

			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			sqlDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

			return db, nil
		}
		log.WithFields(log.Fields{
			"attempt": i + 1,
			"max":     maxAttempts,
		}).WithError(err).Warn("Попытка подключения к БД не удалась")
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("не удалось подключиться к базе данных после %d попыток: %v", maxAttempts, err)
}
