// Package api exposes the gateway over HTTP: the catch-all fetch
// interception route, the websocket bridge transport, and the health and
// metrics endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshchat/liferaft/internal/bridge"
	"github.com/meshchat/liferaft/internal/cache"
	"github.com/meshchat/liferaft/internal/logger"
	"github.com/meshchat/liferaft/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Server is the gateway HTTP server.
type Server struct {
	echo       *echo.Echo
	supervisor *worker.Supervisor
	bus        *bridge.Bus
	registry   *bridge.Registry
	log        logger.Logger
	listen     string
}

// Config wires the Server.
type Config struct {
	Listen     string
	Supervisor *worker.Supervisor
	Bus        *bridge.Bus
	Registry   *bridge.Registry
	Gatherer   prometheus.Gatherer
	Log        logger.Logger
}

// NewServer builds the echo server and registers routes.
func NewServer(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		supervisor: cfg.Supervisor,
		bus:        cfg.Bus,
		registry:   cfg.Registry,
		log:        cfg.Log,
		listen:     cfg.Listen,
	}

	e.GET("/healthz", s.handleHealth)
	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	e.GET("/ws", s.handleBridgeSocket)
	// Everything else runs through the worker's fetch pipeline.
	e.Any("/*", s.handleFetch)

	return s
}

// Start runs the listener until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(s.listen)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	state := "starting"
	if ctrl := s.supervisor.Active(); ctrl != nil {
		state = string(ctrl.State())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "worker": state})
}

// handleFetch intercepts every resource request, mirroring the worker's
// fetch event: bundle store first, then the strategy router. The pipeline
// always synthesizes a response, so this handler never surfaces a
// transport error.
func (s *Server) handleFetch(c echo.Context) error {
	req := cache.FromHTTP(c.Request())
	resp := s.supervisor.HandleFetch(c.Request().Context(), req)
	if resp == nil {
		// No active generation yet: behave like an uncontrolled page and
		// let the client talk to the origin directly.
		return c.NoContent(http.StatusServiceUnavailable)
	}

	h := c.Response().Header()
	for k, vs := range resp.Header {
		if k == "Content-Type" {
			continue // set by Blob below
		}
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	return c.Blob(status, resp.Header.Get("Content-Type"), resp.Body)
}
