package server

import (
	"campfire/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm/clause"
)

// PushSubscriptionRequest registers or removes a browser push endpoint.
type PushSubscriptionRequest struct {
	Endpoint  string `json:"endpoint"`
	P256DHKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

// CreatePushSubscription stores the caller's push endpoint. Re-posting
// the same endpoint refreshes its keys.
func (s *Server) CreatePushSubscription(c *fiber.Ctx) error {
	var req PushSubscriptionRequest
	if err := c.BodyParser(&req); err != nil || req.Endpoint == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("endpoint is required"))
	}

	sub := &models.PushSubscription{
		UserID:    currentUserID(c),
		Endpoint:  req.Endpoint,
		P256DHKey: req.P256DHKey,
		AuthKey:   req.AuthKey,
		UserAgent: c.Get("User-Agent"),
	}

	err := s.db.WithContext(c.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256_dh_key", "auth_key", "user_agent"}),
		}).
		Create(sub).Error
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.Status(fiber.StatusCreated).JSON(sub)
}

// DeletePushSubscription removes the caller's push endpoint.
func (s *Server) DeletePushSubscription(c *fiber.Ctx) error {
	var req PushSubscriptionRequest
	if err := c.BodyParser(&req); err != nil || req.Endpoint == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("endpoint is required"))
	}

	err := s.db.WithContext(c.Context()).
		Where("user_id = ? AND endpoint = ?", currentUserID(c), req.Endpoint).
		Delete(&models.PushSubscription{}).Error
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
