package router // package router defines how HTTP routes are registered for the service

import (
	"github.com/labstack/echo/v4" // the Echo web framework handles routing
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Divkix/pickmyclass/internal/handler"    // handlers implementing the endpoints
	"github.com/Divkix/pickmyclass/internal/middleware" // cron trigger authentication
)

// RegisterRoutes registers the monitor's HTTP surface on the provided
// Echo instance:
//
//	GET  /healthz            – component health for load balancers
//	GET  /metrics            – prometheus scrape endpoint
//	POST /internal/dispatch  – the authenticated dispatch trigger
//
// The dispatch trigger is invoked by an external timer on a fixed
// cadence and is the only way a dispatch cycle starts; there is no
// in-process ticker.
func RegisterRoutes(e *echo.Echo, health *handler.HealthHandler, dispatch *handler.DispatchHandler, reg *prometheus.Registry, cronJWTSecret, cronSecretHash string) {
	e.GET("/healthz", health.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	internal := e.Group("/internal")
	internal.Use(middleware.CronAuth(cronJWTSecret, cronSecretHash))
	internal.POST("/dispatch", dispatch.Trigger)
}
