package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nstepanov-dev/webshop/internal/config"
	"github.com/nstepanov-dev/webshop/internal/es"
	"github.com/nstepanov-dev/webshop/internal/handlers"
	"github.com/nstepanov-dev/webshop/internal/handlers/cart"
	orderhdl "github.com/nstepanov-dev/webshop/internal/handlers/order"
	"github.com/nstepanov-dev/webshop/internal/logging"
	loggingmw "github.com/nstepanov-dev/webshop/internal/middleware/logging"
	"github.com/nstepanov-dev/webshop/internal/mykafka"
	"github.com/nstepanov-dev/webshop/internal/payment"
	ordersvc "github.com/nstepanov-dev/webshop/internal/service/order"
	"github.com/nstepanov-dev/webshop/internal/service/token"
	httpserver "github.com/nstepanov-dev/webshop/internal/transport/http"
	"github.com/nstepanov-dev/webshop/internal/validation"
)

func main() {
	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	jwtSecret := []byte(configuration.JWT_SECRET)
	refreshSecret := []byte(configuration.REFRESH_SECRET)

	prod, err := mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
	if err != nil {
		log.Fatal(err)
	}

	esClient, err := es.NewClient(configuration)
	if err != nil {
		log.Fatal(err)
	}

	gateway := payment.NewClient(
		configuration.PAYMENT_BASE_URL,
		configuration.PAYMENT_KEY_ID,
		configuration.PAYMENT_KEY_SECRET,
	)

	orderService := &ordersvc.Service{
		DB:            db,
		Gateway:       gateway,
		WebhookSecret: []byte(configuration.PAYMENT_WEBHOOK_SECRET),
		Currency:      configuration.CURRENCY,
	}

	validate := validation.New()

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), loggingmw.RequestLogger(logger))

	deps := httpserver.Deps{
		DB:             db,
		AuthHandler:    &handlers.AuthHandler{DB: db, JWTSecret: jwtSecret, RefreshSecret: refreshSecret, Producer: prod},
		ProductHandler: &handlers.ProductHandler{DB: db, Producer: prod, Indexer: &es.ProductIndexer{ES: esClient, Index: "product"}, Validate: validate},
		CartHandler:    &cart.CartHandler{DB: db, Producer: prod, Svc: orderService},
		OrderHandler:   &orderhdl.OrderHandler{Svc: orderService, Producer: prod, Validate: validate},
		ServiceHandler: &token.TokenService{DB: db, RefreshSecret: refreshSecret, JWTSecret: jwtSecret},
		SearchHandler:  handlers.NewSearchHandler(esClient, "product"),
		RateLimit:      configuration.RATE_LIMIT_PER_MINUTE,
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if err := prod.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
