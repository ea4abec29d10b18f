// Command cleanup removes expired, never-redeemed verification tokens.
// It runs out of band (cron or a one-shot container); the verification flow
// never depends on it.
package main

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"trustgate/internal/repository/postgres"
	"trustgate/pkg/config"
	"trustgate/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("trustgate-cleanup")

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tokenRepo := postgres.NewVerificationTokenRepository(db)
	deleted, err := tokenRepo.DeleteExpired(ctx, time.Now())
	if err != nil {
		log.Fatal("Token cleanup failed", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Token cleanup complete", map[string]interface{}{"deleted": deleted})
}
