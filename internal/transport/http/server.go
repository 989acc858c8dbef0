// Package http exposes the REST and websocket surface of the server.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/auth"
	"github.com/sosnairobi/aidlink-server/internal/config"
	"github.com/sosnairobi/aidlink-server/internal/dispatch"
	"github.com/sosnairobi/aidlink-server/internal/intake"
	"github.com/sosnairobi/aidlink-server/internal/notify"
	"github.com/sosnairobi/aidlink-server/internal/registry"
	"github.com/sosnairobi/aidlink-server/internal/relay"
	"github.com/sosnairobi/aidlink-server/internal/session"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

// Deps carries the services the transport routes into.
type Deps struct {
	Intake    *intake.Service
	Registry  *registry.Service
	Dispatch  *dispatch.Service
	Sessions  *session.Coordinator
	Relay     *relay.Relay
	Notify    *notify.Router
	Store     store.Store
	JWTConfig *auth.JWTConfig
}

// NewServer builds the HTTP server with all routes wired.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(deps, logger)
	ws := NewWSHandlers(deps, cfg.MaxMessageBytes, logger)

	router.GET("/healthz", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/request/direct", api.SubmitRequest)
	v1.POST("/volunteer/verify", api.VerifyVolunteer)
	v1.GET("/map/hotspots", api.MapHotspots)
	v1.POST("/partner/login", api.PartnerLogin)

	volunteer := v1.Group("", AuthMiddleware(deps.JWTConfig, auth.RoleVolunteer, logger))
	volunteer.POST("/volunteer/status", api.SetAvailability)
	volunteer.POST("/request/:id/accept", api.AcceptRequest)

	partner := v1.Group("/partner", AuthMiddleware(deps.JWTConfig, auth.RoleOperator, logger))
	partner.POST("/volunteers", api.RegisterVolunteer)
	partner.GET("/requests/pending", api.PendingRequests)

	router.GET("/ws/chat/:room/:token", ws.Chat)
	router.GET("/ws/notifications", ws.Notifications)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
