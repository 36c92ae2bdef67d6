package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"campfire/internal/broadcast"
	"campfire/internal/models"
	"campfire/internal/repository"
)

// MembershipService grants and revokes room access in bulk, cascading to
// thread rooms, and keeps open rooms covering every active user.
type MembershipService struct {
	db          *gorm.DB
	rooms       repository.RoomRepository
	memberships repository.MembershipRepository
	users       repository.UserRepository
	broadcaster *broadcast.Broadcaster
}

// NewMembershipService returns a new MembershipService.
func NewMembershipService(
	db *gorm.DB,
	rooms repository.RoomRepository,
	memberships repository.MembershipRepository,
	users repository.UserRepository,
	broadcaster *broadcast.Broadcaster,
) *MembershipService {
	return &MembershipService{
		db:          db,
		rooms:       rooms,
		memberships: memberships,
		users:       users,
		broadcaster: broadcaster,
	}
}

// Grant upserts memberships for the users, then re-walks the room's
// thread rooms so nobody misses sub-conversations that already exist.
// Re-granting an existing member is a no-op apart from reactivation.
func (s *MembershipService) Grant(ctx context.Context, roomID uint, userIDs []uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Room not found")
		}
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.grantTx(ctx, tx, room, userIDs)
	})
	if err != nil {
		return err
	}

	for _, uid := range userIDs {
		s.broadcaster.MembershipGranted(ctx, room, uid)
	}
	return nil
}

func (s *MembershipService) grantTx(ctx context.Context, tx *gorm.DB, room *models.Room, userIDs []uint) error {
	memberships := s.memberships.WithTx(tx)
	for _, uid := range userIDs {
		m := &models.Membership{
			RoomID:      room.ID,
			UserID:      uid,
			Involvement: room.DefaultInvolvement(),
			Active:      true,
		}
		if err := memberships.Grant(ctx, m); err != nil {
			return err
		}
	}

	if room.Thread() {
		return nil
	}

	threads, err := s.rooms.WithTx(tx).ListThreadsUnderRoom(ctx, room.ID)
	if err != nil {
		return err
	}
	for _, thread := range threads {
		for _, uid := range userIDs {
			m := &models.Membership{
				RoomID:      thread.ID,
				UserID:      uid,
				Involvement: thread.DefaultInvolvement(),
				Active:      true,
			}
			if err := memberships.Grant(ctx, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// Revoke deactivates memberships for the users and cascades into the
// room's thread rooms.
func (s *MembershipService) Revoke(ctx context.Context, roomID uint, userIDs []uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Room not found")
		}
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.revokeTx(ctx, tx, room, userIDs)
	})
	if err != nil {
		return err
	}

	for _, uid := range userIDs {
		s.broadcaster.MembershipRevoked(ctx, room, uid)
	}
	return nil
}

func (s *MembershipService) revokeTx(ctx context.Context, tx *gorm.DB, room *models.Room, userIDs []uint) error {
	memberships := s.memberships.WithTx(tx)

	roomIDs := []uint{room.ID}
	if !room.Thread() {
		threads, err := s.rooms.WithTx(tx).ListThreadsUnderRoom(ctx, room.ID)
		if err != nil {
			return err
		}
		for _, thread := range threads {
			roomIDs = append(roomIDs, thread.ID)
		}
	}

	for _, uid := range userIDs {
		if err := memberships.RevokeForRooms(ctx, roomIDs, uid); err != nil {
			return err
		}
	}
	return nil
}

// Revise applies a grant list and a revoke list in one transaction, so a
// room-settings edit either fully applies or not at all.
func (s *MembershipService) Revise(ctx context.Context, roomID uint, grantIDs, revokeIDs []uint) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Room not found")
		}
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(grantIDs) > 0 {
			if err := s.grantTx(ctx, tx, room, grantIDs); err != nil {
				return err
			}
		}
		if len(revokeIDs) > 0 {
			return s.revokeTx(ctx, tx, room, revokeIDs)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, uid := range grantIDs {
		s.broadcaster.MembershipGranted(ctx, room, uid)
	}
	for _, uid := range revokeIDs {
		s.broadcaster.MembershipRevoked(ctx, room, uid)
	}
	return nil
}

// SetInvolvement updates a member's notification preference.
func (s *MembershipService) SetInvolvement(ctx context.Context, roomID, userID uint, involvement models.Involvement) error {
	switch involvement {
	case models.InvolvementInvisible, models.InvolvementNothing, models.InvolvementMentions, models.InvolvementEverything:
	default:
		return models.NewValidationError("Unknown involvement level")
	}

	if _, err := s.memberships.Get(ctx, roomID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Membership not found")
		}
		return err
	}

	if err := s.memberships.SetInvolvement(ctx, roomID, userID, involvement); err != nil {
		return err
	}
	s.broadcaster.InvolvementChanged(ctx, roomID, userID, involvement)
	return nil
}

// ReconcileOpenRoom grants membership to every active user the open room
// is missing. Computed as a set difference so re-runs are cheap no-ops.
func (s *MembershipService) ReconcileOpenRoom(ctx context.Context, roomID uint) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Open() {
		return models.NewValidationError("Room is not open")
	}

	missing, err := s.memberships.MissingActiveUserIDs(ctx, room.ID)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	return s.Grant(ctx, room.ID, missing)
}

// GrantOpenRooms joins a user to every active open room. Called when an
// account is created or reactivated.
func (s *MembershipService) GrantOpenRooms(ctx context.Context, userID uint) error {
	rooms, err := s.rooms.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		if err := s.Grant(ctx, room.ID, []uint{userID}); err != nil {
			return err
		}
	}
	return nil
}
