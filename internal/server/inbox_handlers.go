package server

import (
	"time"

	"campfire/internal/models"
	"campfire/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ClearInboxRequest carries the per-tab watermarks of the clearing
// session: how far each inbox view had actually been loaded.
type ClearInboxRequest struct {
	MentionsLoadedUntil      *time.Time `json:"mentions_loaded_until"`
	NotificationsLoadedUntil *time.Time `json:"notifications_loaded_until"`
	MessagesLoadedUntil      *time.Time `json:"messages_loaded_until"`
}

// GetInboxMentions returns messages mentioning the caller, newest first.
func (s *Server) GetInboxMentions(c *fiber.Ctx) error {
	msgs, err := s.inboxService.Mentions(c.Context(), currentUserID(c), c.QueryInt("limit", 50))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// GetInboxThreads returns the thread rooms on the caller's radar.
func (s *Server) GetInboxThreads(c *fiber.Ctx) error {
	threads, err := s.inboxService.Threads(c.Context(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"threads": threads})
}

// GetInboxNotifications returns messages from the caller's
// everything-involvement rooms.
func (s *Server) GetInboxNotifications(c *fiber.Ctx) error {
	msgs, err := s.inboxService.Notifications(c.Context(), currentUserID(c), c.QueryInt("limit", 50))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// GetInboxMessages returns the cross-room feed of every visible room.
func (s *Server) GetInboxMessages(c *fiber.Ctx) error {
	msgs, err := s.inboxService.Messages(c.Context(), currentUserID(c), c.QueryInt("limit", 50))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// ClearInbox marks the caller's unread rooms read up to the session
// watermarks. Missing or stale watermarks collapse to the current time.
func (s *Server) ClearInbox(c *fiber.Ctx) error {
	var req ClearInboxRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	in := service.ClearInboxInput{}
	if req.MentionsLoadedUntil != nil {
		in.MentionsLoadedUntil = *req.MentionsLoadedUntil
	}
	if req.NotificationsLoadedUntil != nil {
		in.NotificationsLoadedUntil = *req.NotificationsLoadedUntil
	}
	if req.MessagesLoadedUntil != nil {
		in.MessagesLoadedUntil = *req.MessagesLoadedUntil
	}

	if err := s.inboxService.Clear(c.Context(), currentUserID(c), in); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
