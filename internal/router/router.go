package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/eventdesk/seat-reservation/internal/broadcast"
	"github.com/eventdesk/seat-reservation/internal/config"
	"github.com/eventdesk/seat-reservation/internal/handler"
	"github.com/eventdesk/seat-reservation/internal/lock"
	"github.com/eventdesk/seat-reservation/internal/middleware"
	"github.com/eventdesk/seat-reservation/internal/ws"
)

// Deps bundles everything the route table needs.
type Deps struct {
	JWTSecret string
	Redis     *redis.Client // may be nil; limiter and cache degrade to pass-through
	Manager   *lock.Manager
	Hub       *broadcast.Hub
	Seats     *handler.SeatHandler
	Purchases *handler.PurchaseHandler
}

// RegisterRoutes wires the full route table.
//
// The websocket endpoint lives outside the JWT middleware group: the
// browser cannot set an Authorization header on a websocket dial, so
// the gateway validates the token query parameter itself.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)

	e.GET("/v1/events/:code/ws", ws.Handler(d.JWTSecret, d.Manager, d.Hub))

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(d.JWTSecret))
	auth.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), d.Redis))

	// Snapshot hydration; short-TTL cached since hundreds of viewers
	// open the same map at once.
	auth.GET("/events/:code/seats", d.Seats.GetSeats,
		middleware.SnapshotCache(config.LoadSnapshotCacheConfig(), d.Redis))

	// Checkout.
	auth.POST("/events/:code/purchases", d.Purchases.CreatePurchase)
	auth.GET("/purchases/:id", d.Purchases.GetPurchase)

	// Owner tooling.
	staff := auth.Group("", middleware.RequireRole("staff"))
	staff.POST("/events/:code/staff-holds", d.Seats.CreateStaffHold)
	staff.DELETE("/events/:code/staff-holds/:seat", d.Seats.DeleteStaffHold)
	staff.DELETE("/events/:code/claims/:seat", d.Seats.OverrideRelease)
}
