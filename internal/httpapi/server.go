// Package httpapi is the HTTP boundary for the upstream report workflow and
// operators: decision intake, command retry and integration management.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/palisade-gg/palisade/internal/config"
	"github.com/palisade-gg/palisade/internal/dispatch"
	"github.com/palisade-gg/palisade/internal/registry"
)

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h *Handlers
	e *echo.Echo
}

// NewEchoServer creates a new HTTP server.
func NewEchoServer(cfg config.Config, reg *registry.Registry, dispatcher *dispatch.Dispatcher, configs registry.ConfigStore) (*EchoServer, error) {
	h := &Handlers{Registry: reg, Dispatcher: dispatcher, Configs: configs}
	es := &EchoServer{h: h, e: echo.New()}
	es.e.HideBanner = true
	es.registerRoutes(cfg.APIToken)
	return es, nil
}

func (es *EchoServer) registerRoutes(apiToken string) {
	es.e.GET("/healthz", es.h.HandleHealthz)
	es.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := es.e.Group("/api")
	if apiToken != "" {
		api.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(apiToken)) == 1, nil
			},
		}))
	}

	api.POST("/decisions", es.h.HandleDecision)
	api.POST("/retry", es.h.HandleRetry)

	api.GET("/integrations", es.h.HandleListIntegrations)
	api.POST("/integrations", es.h.HandleCreateIntegration)
	api.GET("/integrations/:id", es.h.HandleGetIntegration)
	api.PUT("/integrations/:id", es.h.HandleUpdateIntegration)
	api.DELETE("/integrations/:id", es.h.HandleRemoveIntegration)
	api.POST("/integrations/:id/enable", es.h.HandleEnableIntegration)
	api.POST("/integrations/:id/disable", es.h.HandleDisableIntegration)
}

// Start starts the HTTP server.
func (es *EchoServer) Start(addr string) error {
	return es.e.Start(addr)
}

// StartServer starts the HTTP server with a custom http.Server.
func (es *EchoServer) StartServer(server *http.Server) error {
	return es.e.StartServer(server)
}

// Shutdown gracefully shuts down the HTTP server.
func (es *EchoServer) Shutdown(ctx context.Context) error {
	return es.e.Shutdown(ctx)
}
