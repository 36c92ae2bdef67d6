package server

import (
	"campfire/internal/models"
	"campfire/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateRoomRequest is the request body for creating an open or closed room.
type CreateRoomRequest struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	MemberIDs []uint `json:"member_ids"`
}

// DirectRoomRequest names the other users of a direct room.
type DirectRoomRequest struct {
	UserIDs []uint `json:"user_ids"`
}

// ReviseMembershipsRequest carries a grant list and a revoke list.
type ReviseMembershipsRequest struct {
	Grant  []uint `json:"grant"`
	Revoke []uint `json:"revoke"`
}

// InvolvementRequest sets the caller's notification level for a room.
type InvolvementRequest struct {
	Involvement string `json:"involvement"`
}

// GetRooms returns the caller's sidebar: visible memberships with rooms
// preloaded, most recently active first.
func (s *Server) GetRooms(c *fiber.Ctx) error {
	memberships, err := s.roomService.ListVisibleMemberships(c.Context(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"memberships": memberships})
}

// GetSharedRooms returns the open and closed rooms.
func (s *Server) GetSharedRooms(c *fiber.Ctx) error {
	rooms, err := s.roomService.ListSharedRooms(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"rooms": rooms})
}

// GetRoom returns one room the caller is a member of.
func (s *Server) GetRoom(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	room, err := s.roomService.GetRoom(c.Context(), id, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(room)
}

// CreateRoom creates an open or closed room.
func (s *Server) CreateRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	room, err := s.roomService.CreateRoom(c.Context(), service.CreateRoomInput{
		Name:      req.Name,
		Kind:      models.RoomKind(req.Kind),
		CreatorID: currentUserID(c),
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(room)
}

// FindOrCreateDirectRoom returns the direct room for the given user set,
// creating it on first use.
func (s *Server) FindOrCreateDirectRoom(c *fiber.Ctx) error {
	var req DirectRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	room, err := s.roomService.FindOrCreateDirectRoom(c.Context(), currentUserID(c), req.UserIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(room)
}

// FindOrCreateThread returns the thread room hanging off a message,
// creating it on first use.
func (s *Server) FindOrCreateThread(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	thread, err := s.roomService.FindOrCreateThread(c.Context(), id, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(thread)
}

// DeactivateRoom soft-deletes a room with its messages, memberships, and
// threads.
func (s *Server) DeactivateRoom(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.roomService.DeactivateRoom(c.Context(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ReactivateRoom restores a deactivated room tree. Admin only.
func (s *Server) ReactivateRoom(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.roomService.ReactivateRoom(c.Context(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ConvertRoomToOpen flips a closed room open and backfills memberships.
func (s *Server) ConvertRoomToOpen(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.roomService.ConvertToOpen(c.Context(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ReviseMemberships applies a grant list and revoke list atomically.
func (s *Server) ReviseMemberships(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req ReviseMembershipsRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	room, err := s.roomService.GetRoom(c.Context(), id, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	if room.Open() || room.Direct() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Memberships of open and direct rooms cannot be revised"))
	}

	if err := s.membershipService.Revise(c.Context(), id, req.Grant, req.Revoke); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SetInvolvement updates the caller's notification level for a room.
func (s *Server) SetInvolvement(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req InvolvementRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.membershipService.SetInvolvement(c.Context(), id, currentUserID(c),
		models.Involvement(req.Involvement)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetRoomPresence returns the user ids currently connected to a room.
func (s *Server) GetRoomPresence(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if _, err := s.roomService.GetRoom(c.Context(), id, currentUserID(c)); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"user_ids": s.presence.OnlineUserIDs(c.Context(), id)})
}
