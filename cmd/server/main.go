package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/eventdesk/seat-reservation/internal/broadcast"
	"github.com/eventdesk/seat-reservation/internal/catalog"
	"github.com/eventdesk/seat-reservation/internal/config"
	"github.com/eventdesk/seat-reservation/internal/database"
	"github.com/eventdesk/seat-reservation/internal/expiry"
	"github.com/eventdesk/seat-reservation/internal/handler"
	"github.com/eventdesk/seat-reservation/internal/lock"
	"github.com/eventdesk/seat-reservation/internal/payment"
	"github.com/eventdesk/seat-reservation/internal/queue"
	"github.com/eventdesk/seat-reservation/internal/repository"
	"github.com/eventdesk/seat-reservation/internal/router"
	queue_publisher "github.com/eventdesk/seat-reservation/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env wins
	cfg := config.Load()

	// Durable ledger store.  Without DB config the service runs purely
	// in memory: fine for dev, but holds then do not survive a restart.
	var repo *repository.ReservationRepo
	if cfg.DBHost != "" {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatalf("mysql: %v", err)
		}
		repo = repository.NewReservationRepo(db)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("mysql schema: %v", err)
		}
	} else {
		log.Printf("no DB_HOST configured; reservations will not survive restarts")
	}

	rdb := config.NewRedisClient() // nil disables rate limiting and snapshot caching
	if rdb == nil {
		log.Printf("redis unavailable; rate limiting and snapshot cache disabled")
	}

	hub := broadcast.NewHub(context.Background())
	sched := expiry.NewScheduler()

	var store lock.Store
	if repo != nil {
		store = repo
	}
	mgr := lock.NewManager(
		catalog.Prices(catalog.NewHTTPClient(cfg.CatalogBaseURL)),
		hub, store, sched, queue_publisher.Publisher{}, cfg.HoldWindow,
	)
	sched.OnExpire(mgr.ExpireRelease)

	rec := payment.NewReconciler(payment.NewHTTPGateway(cfg.PaymentBaseURL), mgr)

	// Audit consumer; reconnects forever on its own goroutine.
	go func() {
		if err := queue.StartLifecycleConsumer(); err != nil {
			log.Printf("seat-consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e, router.Deps{
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		Manager:   mgr,
		Hub:       hub,
		Seats:     handler.NewSeatHandler(mgr),
		Purchases: handler.NewPurchaseHandler(rec),
	})

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, hold window=%s)", addr, cfg.Env, cfg.HoldWindow)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
