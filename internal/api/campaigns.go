package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"whatspro/internal/campaign"
	"whatspro/internal/store"
	"whatspro/pkg/logx"
)

// POST /v1/campaigns
func (s *Server) createCampaign(c echo.Context) error {
	ctx := c.Request().Context()

	var spec campaign.Spec
	if err := c.Bind(&spec); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if spec.Name == "" {
		return errJSON(c, http.StatusBadRequest, "name is required")
	}

	created, err := s.campaigns.Create(ctx, spec)
	switch {
	case errors.Is(err, campaign.ErrNoVariants),
		errors.Is(err, campaign.ErrNoTargets):
		return errJSON(c, http.StatusBadRequest, err.Error())
	case err != nil:
		if errors.Is(err, store.ErrNotFound) {
			return errJSON(c, http.StatusNotFound, err.Error())
		}
		s.log.Error("create campaign", logx.Err(err))
		return errJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

// GET /v1/campaigns
func (s *Server) listCampaigns(c echo.Context) error {
	ctx := c.Request().Context()
	list, err := s.campaigns.List(ctx)
	if err != nil {
		s.log.Error("list campaigns", logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to list campaigns")
	}
	if list == nil {
		list = []store.Campaign{}
	}
	return c.JSON(http.StatusOK, map[string]any{"campaigns": list})
}

// GET /v1/campaigns/:id
func (s *Server) getCampaign(c echo.Context) error {
	ctx := c.Request().Context()
	cmp, err := s.campaigns.Get(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errJSON(c, http.StatusNotFound, "campaign not found")
	}
	if err != nil {
		s.log.Error("get campaign", logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to load campaign")
	}
	return c.JSON(http.StatusOK, cmp)
}

// GET /v1/campaigns/:id/preview?limit=...
//
// Preview runs the same assignment computation dispatch will use, so the
// draft can be inspected before a single message goes out.
func (s *Server) previewCampaign(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return errJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	assignments, err := s.campaigns.PreviewAssignments(ctx, c.Param("id"), limit)
	if errors.Is(err, store.ErrNotFound) {
		return errJSON(c, http.StatusNotFound, "campaign not found")
	}
	if err != nil {
		s.log.Error("preview campaign", logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to preview campaign")
	}
	return c.JSON(http.StatusOK, map[string]any{"assignments": assignments})
}

// POST /v1/campaigns/:id/start
func (s *Server) startCampaign(c echo.Context) error {
	return s.campaignAction(c, s.campaigns.Start)
}

// POST /v1/campaigns/:id/resume
func (s *Server) resumeCampaign(c echo.Context) error {
	return s.campaignAction(c, s.campaigns.Resume)
}

// POST /v1/campaigns/:id/cancel
func (s *Server) cancelCampaign(c echo.Context) error {
	return s.campaignAction(c, s.campaigns.Cancel)
}

// POST /v1/campaigns/:id/pause
func (s *Server) pauseCampaign(c echo.Context) error {
	id := c.Param("id")
	err := s.campaigns.Pause(id)
	if errors.Is(err, campaign.ErrNotRunning) {
		return errJSON(c, http.StatusConflict, err.Error())
	}
	if err != nil {
		s.log.Error("pause campaign", logx.String("campaign", id), logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to pause campaign")
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": campaign.StatusPaused})
}

func (s *Server) campaignAction(c echo.Context, fn func(ctx context.Context, id string) error) error {
	id := c.Param("id")
	err := fn(c.Request().Context(), id)
	switch {
	case err == nil:
		cmp, gerr := s.campaigns.Get(c.Request().Context(), id)
		if gerr != nil {
			return c.JSON(http.StatusOK, map[string]string{"id": id})
		}
		return c.JSON(http.StatusOK, cmp)
	case errors.Is(err, store.ErrNotFound):
		return errJSON(c, http.StatusNotFound, "campaign not found")
	case errors.Is(err, campaign.ErrNotStartable),
		errors.Is(err, campaign.ErrNotPaused),
		errors.Is(err, campaign.ErrNoReadySessions):
		return errJSON(c, http.StatusConflict, err.Error())
	default:
		s.log.Error("campaign action", logx.String("campaign", id), logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
}
