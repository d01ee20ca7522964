package database

import (
	"netfuzz/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewDBConnection returns nil when no database is configured. Crash files in
// the outcome directory stay the source of truth either way.
func NewDBConnection(appConfig *config.AppConfig, logger *zap.Logger) *gorm.DB {
	connectionString := appConfig.DatabaseURL
	if connectionString == "" {
		logger.Debug("no database configured, crash index disabled")
		return nil
	}
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	if err := db.AutoMigrate(&Crash{}); err != nil {
		logger.Fatal("failed to migrate crash table", zap.Error(err))
	}
	logger.Debug("connected to database")
	return db
}
