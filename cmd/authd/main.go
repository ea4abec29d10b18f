package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"trustgate/internal/auth"
	"trustgate/internal/devicetrust"
	"trustgate/internal/handler"
	"trustgate/internal/middleware"
	"trustgate/internal/notification"
	"trustgate/internal/repository/postgres"
	"trustgate/internal/security"
	"trustgate/pkg/cache"
	"trustgate/pkg/config"
	"trustgate/pkg/logger"
	"trustgate/pkg/mailer"
	"trustgate/pkg/validator"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("trustgate")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}

	// Repositories
	userRepo := postgres.NewUserRepository(db)
	deviceRepo := postgres.NewTrustedDeviceRepository(db)
	tokenRepo := postgres.NewVerificationTokenRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	// Services
	authService := auth.NewService(userRepo, auditRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	trustService := devicetrust.NewService(
		deviceRepo, tokenRepo, auditRepo, userRepo, log,
		cfg.Verification.TokenExpiration, cfg.Verification.LookbackWindow,
	)
	securityService := security.NewService(auditRepo)

	m := mailer.New(mailer.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		UseTLS:   cfg.Email.SMTPUseTLS,
	})
	notifier := notification.NewService(m, auditRepo, log, cfg.Verification.BaseURL)

	googleOAuth := auth.NewGoogleOAuth(
		cfg.OAuth.GoogleClientID,
		cfg.OAuth.GoogleClientSecret,
		cfg.OAuth.GoogleRedirectURL,
		cache.NewRedisCache(redisClient),
		cfg.OAuth.StateExpiration,
	)

	fingerprinter := devicetrust.NewFingerprinter(devicetrust.StaticGeoResolver{})

	// Handlers
	val := validator.New()
	authHandler := handler.NewAuthHandler(authService, googleOAuth, trustService, notifier, fingerprinter, val, log)
	deviceHandler := handler.NewDeviceHandler(trustService, val)
	securityHandler := handler.NewSecurityHandler(securityService, log)

	// Router
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window).Limit)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.BodyLimit(1 << 20))

	// Public routes
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/api/v1/auth/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/api/v1/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/v1/auth/oauth/google", authHandler.GoogleStart).Methods("GET")
	r.HandleFunc("/api/v1/auth/oauth/google/callback", authHandler.GoogleCallback).Methods("GET")
	r.HandleFunc("/api/v1/auth/verify-device", authHandler.VerifyDevice).Methods("GET")

	// Authenticated routes
	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.HandleFunc("/auth/me", authHandler.Me).Methods("GET")
	api.HandleFunc("/auth/totp/setup", authHandler.TOTPSetup).Methods("POST")
	api.HandleFunc("/auth/totp/enable", authHandler.TOTPEnable).Methods("POST")
	api.HandleFunc("/devices", deviceHandler.ListDevices).Methods("GET")
	api.HandleFunc("/devices/{fingerprint}", deviceHandler.RemoveDevice).Methods("DELETE")

	// Admin routes
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/security/events", securityHandler.GetAuditEvents).Methods("GET")
	admin.HandleFunc("/security/events/stream", securityHandler.StreamAuditEvents).Methods("GET")
	admin.HandleFunc("/users/{id}/security", deviceHandler.AdminUserSecurity).Methods("GET")
	admin.HandleFunc("/users/{id}/devices/trust", deviceHandler.AdminTrustDevice).Methods("POST")
	admin.HandleFunc("/users/{id}/devices/{fingerprint}", deviceHandler.AdminRemoveDevice).Methods("DELETE")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Trustgate service starting", map[string]interface{}{"port": cfg.Server.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Server stopped", nil)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	_ = r
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"trustgate"}`))
}
