package api

import (
	"net/http"
	"time"

	"bookbridge/internal/creds"
	"bookbridge/internal/events"
	"bookbridge/internal/market"
	"bookbridge/internal/monitor"
	"bookbridge/internal/push"
	"bookbridge/pkg/db"
	"bookbridge/pkg/secrets"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the bridge components.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Engine    *market.Engine
	Pipeline  *push.Pipeline
	Status    *push.StatusCache
	Creds     *creds.Store
	Secrets   *secrets.Box // optional, nil disables token sealing
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	FeedMode string
	Version  string
}

func NewServer(bus *events.Bus, database *db.Database, engine *market.Engine, pipeline *push.Pipeline, status *push.StatusCache, credStore *creds.Store, box *secrets.Box, metrics *monitor.SystemMetrics, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                      // Panic recovery (first)
	r.Use(RequestIDMiddleware())               // Request ID tracking
	r.Use(RequestLogger(metrics))              // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())               // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Engine:    engine,
		Pipeline:  pipeline,
		Status:    status,
		Creds:     credStore,
		Secrets:   box,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws/prices", s.priceSocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerAdmin)
			auth.POST("/login", s.loginAdmin)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			book := protected.Group("/book")
			{
				book.GET("/users", s.listBookUsers)
				book.GET("/users/:id", s.getBookUser)
				book.PUT("/users/:id/book", s.assignBook)
				book.POST("/users/bulk-assign", s.bulkAssignBook)

				book.GET("/settings", s.getSettings)
				book.PUT("/settings", s.updateSettings)
				book.DELETE("/settings", s.deleteSettings)

				book.POST("/test", s.testConnection)
				book.GET("/status", s.getBookStatus)
				book.GET("/positions", s.getPositions)
			}

			prices := protected.Group("/prices")
			{
				prices.GET("/instruments", s.listInstruments)
				prices.POST("/batch", s.batchPrices)
				prices.GET("/:symbol", s.getPrice)
			}

			trades := protected.Group("/trades")
			{
				trades.GET("", s.listTrades)
				trades.POST("", s.createTrade)
				trades.POST("/:id/close", s.closeTrade)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
