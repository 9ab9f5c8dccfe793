package database

import (
	"fmt"
	"log"
	"time"

	"github.com/refloop/refloop/app/models"
	"github.com/refloop/refloop/internal/pkg/env"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

func SetupDatabase() {
	var err error
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                      dsn,
			DefaultStringSize:        256,
			DisableDatetimePrecision: true,
		}), &gorm.Config{})
		if err == nil {
			if migrateErr := migrateModels(DB); migrateErr != nil {
				log.Printf("Failed to run auto migration: %v", migrateErr)
				panic(migrateErr)
			}
			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

func migrateModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ReferralConfig{},
		&models.ReferralCode{},
		&models.Referral{},
		&models.UserCredits{},
		&models.CreditTransaction{},
		&models.Subscription{},
		&models.WebhookEvent{},
	)
}

// GetDB returns the global database handle.
func GetDB() *gorm.DB {
	return DB
}

// SetDB swaps the global database handle (used by tests).
func SetDB(db *gorm.DB) {
	DB = db
}
