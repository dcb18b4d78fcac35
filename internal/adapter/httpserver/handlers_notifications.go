package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/splitpulse/internal/domain"
	apperrors "github.com/pscheid92/splitpulse/internal/platform/errors"
)

func (s *Server) registerNotificationRoutes(rateLimiter echo.MiddlewareFunc) {
	base := s.config.APIPrefix + "/notifications"
	s.echo.GET(base, s.handleListNotifications, s.requireAuth, rateLimiter)
	s.echo.POST(base, s.handleCreateNotification, s.requireServiceAuth, rateLimiter)
	s.echo.GET(base+"/unread", s.handleUnreadCount, s.requireAuth, rateLimiter)
	s.echo.PATCH(base+"/mark-all-read", s.handleMarkAllRead, s.requireAuth, rateLimiter)
	s.echo.PATCH(base+"/:id/read", s.handleMarkRead, s.requireAuth, rateLimiter)
}

type countResponse struct {
	Count int64 `json:"count"`
}

type listResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

type createNotificationRequest struct {
	UserID     string   `json:"userId"`
	ActorID    *string  `json:"actorId"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Amount     *float64 `json:"amount"`
	Actionable bool     `json:"actionable"`
}

func (s *Server) handleUnreadCount(c echo.Context) error {
	userID := userIDFrom(c)

	count, err := s.notifications.UnreadCount(c.Request().Context(), userID)
	if err != nil {
		return apperrors.InternalError("failed to count unread notifications", err)
	}

	if err := c.JSON(http.StatusOK, countResponse{Count: int64(count)}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListNotifications(c echo.Context) error {
	userID := userIDFrom(c)

	opts := domain.ListOptions{}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return apperrors.ValidationError("limit must be a non-negative integer").WithField("limit", raw)
		}
		opts.Limit = limit
	}
	if raw := c.QueryParam("unread"); raw != "" {
		unreadOnly, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.ValidationError("unread must be a boolean").WithField("unread", raw)
		}
		opts.UnreadOnly = unreadOnly
	}

	notifications, err := s.notifications.List(c.Request().Context(), userID, opts)
	if err != nil {
		return apperrors.InternalError("failed to list notifications", err)
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}

	if err := c.JSON(http.StatusOK, listResponse{Notifications: notifications}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleCreateNotification lets a CRUD service record a notification for a
// recipient on behalf of the acting user.
func (s *Server) handleCreateNotification(c echo.Context) error {
	var req createNotificationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Type = strings.TrimSpace(req.Type)
	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.UserID == "":
		return apperrors.ValidationError("userId is required")
	case req.Type == "":
		return apperrors.ValidationError("type is required")
	case req.Title == "":
		return apperrors.ValidationError("title is required")
	}
	if req.ActorID != nil {
		if actor := strings.TrimSpace(*req.ActorID); actor != "" {
			req.ActorID = &actor
		} else {
			req.ActorID = nil
		}
	}

	created := s.notifications.CreateNotification(c.Request().Context(), domain.NewNotification{
		UserID:     req.UserID,
		ActorID:    req.ActorID,
		Type:       req.Type,
		Title:      req.Title,
		Message:    req.Message,
		Amount:     req.Amount,
		Actionable: req.Actionable,
	})
	if created == nil {
		return apperrors.InternalError("failed to create notification", nil).
			WithField("user_id", req.UserID).
			WithField("service", serviceFrom(c))
	}

	if err := c.JSON(http.StatusCreated, created); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleMarkRead(c echo.Context) error {
	userID := userIDFrom(c)

	rawID := c.Param("id")
	id, err := uuid.Parse(rawID)
	if err != nil {
		return apperrors.ValidationError("invalid notification ID").WithField("id", rawID)
	}

	n, err := s.notifications.MarkRead(c.Request().Context(), userID, id)
	if errors.Is(err, domain.ErrNotificationNotFound) {
		return apperrors.NotFoundError("notification not found").WithField("id", id.String())
	}
	if err != nil {
		return apperrors.InternalError("failed to mark notification as read", err).WithField("id", id.String())
	}

	if err := c.JSON(http.StatusOK, n); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleMarkAllRead(c echo.Context) error {
	userID := userIDFrom(c)

	updated, err := s.notifications.MarkAllRead(c.Request().Context(), userID)
	if err != nil {
		return apperrors.InternalError("failed to mark notifications as read", err)
	}

	if err := c.JSON(http.StatusOK, countResponse{Count: updated}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
