// Package api exposes the platform over HTTP: session lifecycle,
// chat history reads, campaign control and a server-sent event stream
// bridging the internal bus.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"whatspro/internal/campaign"
	"whatspro/internal/eventbus"
	"whatspro/internal/session"
	"whatspro/internal/store"
	"whatspro/pkg/logx"
)

type Server struct {
	addr      string
	echo      *echo.Echo
	sessions  *session.Controller
	campaigns *campaign.Manager
	store     store.Store
	bus       eventbus.Bus
	log       logx.Logger
}

func NewServer(addr string, sessions *session.Controller, campaigns *campaign.Manager, st store.Store, bus eventbus.Bus, log logx.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		addr:      addr,
		echo:      e,
		sessions:  sessions,
		campaigns: campaigns,
		store:     st,
		bus:       bus,
		log:       log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.POST("/v1/sessions", s.createSession)
	e.GET("/v1/sessions", s.listSessions)
	e.GET("/v1/sessions/:id", s.getSession)
	e.DELETE("/v1/sessions/:id", s.deleteSession)
	e.POST("/v1/sessions/:id/restart", s.restartSession)
	e.POST("/v1/sessions/:id/send", s.sendMessage)
	e.GET("/v1/sessions/:id/messages", s.listMessages)
	e.GET("/v1/sessions/:id/contacts", s.listContacts)

	e.POST("/v1/campaigns", s.createCampaign)
	e.GET("/v1/campaigns", s.listCampaigns)
	e.GET("/v1/campaigns/:id", s.getCampaign)
	e.GET("/v1/campaigns/:id/preview", s.previewCampaign)
	e.POST("/v1/campaigns/:id/start", s.startCampaign)
	e.POST("/v1/campaigns/:id/pause", s.pauseCampaign)
	e.POST("/v1/campaigns/:id/resume", s.resumeCampaign)
	e.POST("/v1/campaigns/:id/cancel", s.cancelCampaign)

	e.GET("/v1/events", s.streamEvents)

	e.GET("/health", s.health)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.echo.Start(s.addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func errJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
