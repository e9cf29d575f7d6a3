package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nigamk1/tutorboard/domain"
	"github.com/nigamk1/tutorboard/session"
)

// CreateSession starts a new tutoring session.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req struct {
		OwnerID    string `json:"owner_id"`
		Subject    string `json:"subject"`
		Language   string `json:"language"`
		Difficulty string `json:"difficulty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.OwnerID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
	}

	sess, err := h.coord.StartSession(c.Request().Context(), session.StartOptions{
		OwnerID:    req.OwnerID,
		Subject:    req.Subject,
		Language:   req.Language,
		Difficulty: req.Difficulty,
	})
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	return c.JSON(http.StatusCreated, sess)
}

// GetSession returns a session by id.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.store.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		h.logger.Error("failed to get session", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, sess)
}

// GetTurns returns a session's turns, oldest first.
// GET /v1/sessions/:session_id/turns
func (h *Handler) GetTurns(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}
	before := c.QueryParam("before")

	turns, err := h.store.GetTurns(ctx, sessionID, limit+1, before)
	if err != nil {
		h.logger.Error("failed to get turns", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get turns"})
	}

	hasMore := len(turns) > limit
	if hasMore {
		turns = turns[:limit]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"turns":    turns,
		"has_more": hasMore,
	})
}

// GetWhiteboard returns the current whiteboard snapshot.
// GET /v1/sessions/:session_id/whiteboard
func (h *Handler) GetWhiteboard(c echo.Context) error {
	snap, err := h.store.GetWhiteboard(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		h.logger.Error("failed to get whiteboard", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get whiteboard"})
	}
	if snap == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, snap)
}

// EndSession completes a session.
// POST /v1/sessions/:session_id/end
func (h *Handler) EndSession(c echo.Context) error {
	sess, err := h.coord.End(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		case errors.Is(err, domain.ErrAlreadyCompleted):
			return c.JSON(http.StatusConflict, map[string]string{"error": "session already completed"})
		default:
			h.logger.Error("failed to end session", "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to end session"})
		}
	}
	return c.JSON(http.StatusOK, sess)
}

// DeleteSession removes a session together with its turns and whiteboard.
// DELETE /v1/sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	err := h.coord.DeleteSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		h.logger.Error("failed to delete session", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete session"})
	}
	return c.NoContent(http.StatusNoContent)
}
