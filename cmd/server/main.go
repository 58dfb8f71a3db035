package main

import (
	"log"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dvtran/cinema-ticketing/internal/config"
	"github.com/dvtran/cinema-ticketing/internal/database"
	"github.com/dvtran/cinema-ticketing/internal/gateway"
	"github.com/dvtran/cinema-ticketing/internal/handler"
	"github.com/dvtran/cinema-ticketing/internal/hold"
	"github.com/dvtran/cinema-ticketing/internal/lease"
	"github.com/dvtran/cinema-ticketing/internal/mailer"
	"github.com/dvtran/cinema-ticketing/internal/notify"
	"github.com/dvtran/cinema-ticketing/internal/repository"
	"github.com/dvtran/cinema-ticketing/internal/router"
	"github.com/dvtran/cinema-ticketing/internal/session"
	"github.com/dvtran/cinema-ticketing/internal/settlement"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}

	// The lease store is the only source of truth for in-flight holds
	// and sessions; without Redis the reservation core cannot run.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Fatal("redis connect failed")
	}
	store := lease.NewRedisStore(rdb)
	notifier := notify.NewRedisNotifier(rdb, logger)

	catalog := repository.NewCatalogRepo(db)
	orders := repository.NewOrderRepo(db)

	holds := hold.NewRegistry(store, catalog, notifier, cfg.SeatHoldTTL, cfg.PaymentWindow, logger)
	sessions := session.NewManager(store, catalog, cfg.SessionTTL, cfg.PaymentWindow, logger)

	gw := gateway.NewClient(gateway.Config{
		TmnCode:    cfg.GatewayTmnCode,
		HashSecret: cfg.GatewaySecret,
		PayURL:     cfg.GatewayPayURL,
		ReturnURL:  cfg.GatewayReturnURL,
		Window:     cfg.PaymentWindow,
	})
	receipts := mailer.NewDispatcher(cfg.RabbitURL, logger)
	coordinator := settlement.NewCoordinator(orders, holds, sessions, gw, notifier, receipts, logger)

	e := echo.New()
	e.HideBanner = true
	router.RegisterPublic(e, handler.NewCheckoutHandler(coordinator), handler.NewStreamHandler(notifier))
	router.RegisterReservation(e, cfg.JWTSecret,
		handler.NewSeatHandler(holds),
		handler.NewSessionHandler(sessions),
		handler.NewCheckoutHandler(coordinator))

	addr := ":" + cfg.Port
	logger.Info("listening",
		zap.String("addr", addr),
		zap.String("env", cfg.Env),
		zap.Duration("seat_hold_ttl", cfg.SeatHoldTTL),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Duration("payment_window", cfg.PaymentWindow))

	e.Server.ReadHeaderTimeout = 10 * time.Second
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
