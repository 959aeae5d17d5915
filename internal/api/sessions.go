package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"whatspro/internal/session"
	"whatspro/internal/store"
	"whatspro/pkg/logx"
)

type createSessionRequest struct {
	Name string `json:"name"`
}

// POST /v1/sessions
func (s *Server) createSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return errJSON(c, http.StatusBadRequest, "name is required")
	}

	id, err := s.sessions.Create(ctx, req.Name)
	if err != nil {
		s.log.Error("create session", logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to create session")
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

// GET /v1/sessions
func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.sessions.Sessions(c.Request().Context())
	if err != nil {
		s.log.Error("list sessions", logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to list sessions")
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /v1/sessions/:id
//
// The QR payload rides on the session row while the session is awaiting
// its handshake; clients poll here or watch /v1/events.
func (s *Server) getSession(c echo.Context) error {
	sess, err := s.sessions.Session(c.Request().Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return errJSON(c, http.StatusNotFound, "session not found")
	}
	if err != nil {
		s.log.Error("get session", logx.String("session", c.Param("id")), logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to load session")
	}
	return c.JSON(http.StatusOK, sess)
}

// DELETE /v1/sessions/:id
func (s *Server) deleteSession(c echo.Context) error {
	ctx := c.Request().Context()
	err := s.sessions.Delete(ctx, c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return errJSON(c, http.StatusNotFound, "session not found")
	}
	if err != nil {
		s.log.Error("delete session", logx.String("session", c.Param("id")), logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to delete session")
	}
	return c.NoContent(http.StatusNoContent)
}

// POST /v1/sessions/:id/restart
//
// Re-dials a session left disconnected or auth_failed.
func (s *Server) restartSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	err := s.sessions.Restart(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return errJSON(c, http.StatusNotFound, "session not found")
	case err != nil:
		return errJSON(c, http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"id": id})
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Body   string `json:"body"`
}

// POST /v1/sessions/:id/send
func (s *Server) sendMessage(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" || req.Body == "" {
		return errJSON(c, http.StatusBadRequest, "chat_id and body are required")
	}

	msgID, err := s.sessions.Send(ctx, id, req.ChatID, req.Body)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return errJSON(c, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrNotReady):
		return errJSON(c, http.StatusConflict, "session is not ready")
	case err != nil:
		s.log.Error("send message", logx.String("session", id), logx.Err(err))
		return errJSON(c, http.StatusBadGateway, "send failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"message_id": msgID})
}

// GET /v1/sessions/:id/messages?chat_id=...&limit=...
func (s *Server) listMessages(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.sessions.Session(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return errJSON(c, http.StatusNotFound, "session not found")
		}
		s.log.Error("list messages", logx.String("session", id), logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to load session")
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return errJSON(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	msgs, err := s.store.ListMessages(ctx, id, c.QueryParam("chat_id"), limit)
	if err != nil {
		s.log.Error("list messages", logx.String("session", id), logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to list messages")
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

// GET /v1/sessions/:id/contacts
func (s *Server) listContacts(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.sessions.Session(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return errJSON(c, http.StatusNotFound, "session not found")
		}
		s.log.Error("list contacts", logx.String("session", id), logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to load session")
	}

	contacts, err := s.store.ListContacts(ctx, id)
	if err != nil {
		s.log.Error("list contacts", logx.String("session", id), logx.Err(err))
		return errJSON(c, http.StatusInternalServerError, "failed to list contacts")
	}
	if contacts == nil {
		contacts = []store.Contact{}
	}
	return c.JSON(http.StatusOK, map[string]any{"contacts": contacts})
}
