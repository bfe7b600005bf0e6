// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/dispatch"
	"dispatch/internal/ws"
)

type RouterDeps struct {
	Dispatch       *dispatch.Service
	Hub            *ws.Hub
	Notifications  handlers.NotificationLister
	Metrics        *metrics.Collector
	Verifier       infra.TokenVerifier
	Log            logrus.FieldLogger
	NearbyRadiusKm float64
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	authed := r.Group("/", middleware.Auth(deps.Verifier))

	socketHandler := handlers.NewSocketHandler(deps.Dispatch, deps.Hub, deps.Log)
	authed.GET("/ws/driver", socketHandler.Driver)
	authed.GET("/ws/admin", socketHandler.Operator)

	api := authed.Group("/api")

	tripHandler := handlers.NewTripHandler(deps.Dispatch)
	api.POST("/trips", tripHandler.Submit)
	api.GET("/dispatch/snapshot", tripHandler.Snapshot)

	driverHandler := handlers.NewDriverHandler(deps.Dispatch, deps.NearbyRadiusKm)
	api.GET("/drivers/nearby", driverHandler.Nearby)
	api.DELETE("/drivers/:id/session", driverHandler.Logout)

	notificationHandler := handlers.NewNotificationHandler(deps.Notifications, deps.Log)
	api.GET("/notifications", notificationHandler.Recent)

	entityHandler := handlers.NewEntityHandler(deps.Dispatch)
	api.POST("/events/entities", entityHandler.Publish)

	return r
}
