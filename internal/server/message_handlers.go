package server

import (
	"time"

	"campfire/internal/models"
	"campfire/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateMessageRequest is the request body for posting a message.
type CreateMessageRequest struct {
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id"`
}

// UpdateMessageRequest is the request body for editing a message.
type UpdateMessageRequest struct {
	Body string `json:"body"`
}

// MarkReadRequest optionally bounds how far the room is marked read.
type MarkReadRequest struct {
	ReadUntil *time.Time `json:"read_until"`
}

// MarkUnreadRequest names the message the room should appear unread from.
type MarkUnreadRequest struct {
	MessageID uint `json:"message_id"`
}

// GetMessages returns a chronological page of a room's messages.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	beforeID := uint(c.QueryInt("before", 0))
	limit := c.QueryInt("limit", 50)

	msgs, err := s.messageService.ListMessages(c.Context(), roomID, currentUserID(c), beforeID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// CreateMessage posts a message to a room. Clients send a
// client_message_id so retried requests never duplicate the message.
func (s *Server) CreateMessage(c *fiber.Ctx) error {
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	msg, err := s.messageService.CreateMessage(c.Context(), service.CreateMessageInput{
		RoomID:          roomID,
		CreatorID:       currentUserID(c),
		Body:            req.Body,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// UpdateMessage edits a message body, fully re-resolving its mentions.
func (s *Server) UpdateMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req UpdateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	msg, err := s.messageService.UpdateMessage(c.Context(), service.UpdateMessageInput{
		MessageID: id,
		EditorID:  currentUserID(c),
		Body:      req.Body,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// DeactivateMessage soft-deletes a message.
func (s *Server) DeactivateMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.messageService.DeactivateMessage(c.Context(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ReactivateMessage restores a soft-deleted message. Admin only.
func (s *Server) ReactivateMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.messageService.ReactivateMessage(c.Context(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkRoomRead advances the caller's unread watermark. Without a
// read_until bound the room goes fully read.
func (s *Server) MarkRoomRead(c *fiber.Ctx) error {
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req MarkReadRequest
	// An empty body means "read everything".
	_ = c.BodyParser(&req)

	userID := currentUserID(c)
	var change *service.WatermarkChange
	if req.ReadUntil != nil {
		change, err = s.ledger.ReadUntil(c.Context(), roomID, userID, *req.ReadUntil)
	} else {
		change, err = s.ledger.MarkRoomRead(c.Context(), roomID, userID)
	}
	if err != nil {
		return respondError(c, err)
	}

	if change.Changed {
		if change.UnreadAt == nil {
			s.broadcaster.RoomRead(c.Context(), roomID, userID)
		} else {
			s.broadcaster.RoomUnread(c.Context(), roomID, userID, *change.UnreadAt)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkRoomUnread pins the caller's watermark onto a specific message.
func (s *Server) MarkRoomUnread(c *fiber.Ctx) error {
	roomID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req MarkUnreadRequest
	if err := c.BodyParser(&req); err != nil || req.MessageID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("message_id is required"))
	}

	userID := currentUserID(c)
	change, err := s.ledger.MarkUnread(c.Context(), roomID, userID, req.MessageID)
	if err != nil {
		return respondError(c, err)
	}

	s.broadcaster.RoomUnread(c.Context(), roomID, userID, *change.UnreadAt)
	return c.SendStatus(fiber.StatusNoContent)
}
