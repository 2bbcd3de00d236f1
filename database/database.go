package database

import (
	"context"
	"fmt"
	"time"

	"finchart-app/config"
	"finchart-app/internal/domain/billing"
	"finchart-app/internal/domain/plans"
	"finchart-app/internal/domain/subscriptions"
	"finchart-app/internal/domain/users"
	"finchart-app/internal/domain/watchlist"
	"finchart-app/pkg/logging"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Connect opens the database and migrates the schema. With no DB_URL set it
// falls back to a local sqlite file so the app runs without a postgres
// instance.
func Connect() (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	if config.DB_URL == "" {
		logging.Infof("DB_URL not set, using sqlite for development")
		db, err = gorm.Open(sqlite.Open("finchart.db"), &gorm.Config{})
	} else {
		db, err = gorm.Open(postgres.Open(config.DB_URL), &gorm.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	fmt.Println("✅ Connected and migrated successfully")
	return db, nil
}

// Migrate is split out so tests can run it against an in-memory database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&users.User{},
		&users.VerificationToken{},
		&plans.Plan{},
		&billing.Payment{},
		&billing.WebhookEvent{},
		&subscriptions.Subscription{},
		&watchlist.WatchlistItem{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// ConnectRedis dials the optional Redis used as the webhook dedup fast path.
// Returns a nil client when REDIS_URL is not configured.
func ConnectRedis() (*redis.Client, error) {
	if config.REDIS_URL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(config.REDIS_URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	logging.Infof("Redis connected successfully")
	return client, nil
}
