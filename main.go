package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"finchart-app/config"
	"finchart-app/database"
	adminapi "finchart-app/internal/api/admin"
	authapi "finchart-app/internal/api/auth"
	billingapi "finchart-app/internal/api/billing"
	chatapi "finchart-app/internal/api/chat"
	plansapi "finchart-app/internal/api/plans"
	stripewebhooks "finchart-app/internal/api/stripewebhook"
	usersapi "finchart-app/internal/api/users"
	watchlistapi "finchart-app/internal/api/watchlist"
	routes "finchart-app/internal/app/http"
	"finchart-app/internal/domain/subscriptions"
	"finchart-app/internal/kafka"
	"finchart-app/internal/llm"
	"finchart-app/internal/metrics"
	"finchart-app/pkg/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v75"
)

func main() {
	config.LoadEnv()
	logging.InitLogging()

	// The provider SDK key is process-wide; set it once at startup.
	stripe.Key = config.STRIPE_SECRET_KEY

	db, err := database.Connect()
	if err != nil {
		logging.ErrorLogger.Fatalf("database: %v", err)
	}

	rdb, err := database.ConnectRedis()
	if err != nil {
		logging.ErrorLogger.Fatalf("redis: %v", err)
	}

	var producer kafka.EventProducer
	if config.KAFKA_BROKERS != "" {
		producer, err = kafka.NewEventProducer(strings.Split(config.KAFKA_BROKERS, ","))
		if err != nil {
			logging.ErrorLogger.Fatalf("kafka: %v", err)
		}
	} else {
		producer = kafka.NewNopProducer()
	}

	registry := prometheus.NewRegistry()
	subs := subscriptions.NewStore(db)

	seen := stripewebhooks.NewSeenCache(rdb)
	webhookHandler := stripewebhooks.NewHandler(
		stripewebhooks.NewProjector(db, subs),
		seen,
		metrics.NewWebhookMetrics(registry),
		producer,
		config.STRIPE_WEBHOOK_SECRET,
		config.WEBHOOK_ASYNC,
	)

	llmClient := llm.NewClient(config.OPENAI_API_KEY, config.OPENAI_BASE_URL, config.OPENAI_MODEL)

	deps := routes.Deps{
		Auth:      authapi.NewHandler(db, authapi.NewEmailerFromConfig()),
		Users:     usersapi.NewHandler(db, subs),
		Billing:   billingapi.NewHandler(db, subs),
		Plans:     plansapi.NewHandler(db),
		Chat:      chatapi.NewHandler(llmClient, metrics.NewChatMetrics(registry)),
		Watchlist: watchlistapi.NewHandler(db),
		Admin:     adminapi.NewHandler(db),
		Webhook:   webhookHandler,
		Subs:      subs,
		Registry:  registry,
	}

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.CORS_ORIGIN},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, deps)

	srv := &http.Server{
		Addr:        ":" + config.PORT,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Chat completions can take a while to come back.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logging.Infof("FinChart API listening on :%s", config.PORT)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorLogger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Infof("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("server shutdown: %v", err)
	}

	// Stop accepting first, then drain queued webhook work, then close
	// the downstreams that work may still be writing to.
	webhookHandler.Stop()
	seen.Stop()
	if err := producer.Close(); err != nil {
		logging.Errorf("kafka close: %v", err)
	}
}
