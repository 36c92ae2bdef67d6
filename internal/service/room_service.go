package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"gorm.io/gorm"

	"campfire/internal/cache"
	"campfire/internal/models"
	"campfire/internal/repository"
	"campfire/internal/validation"
)

const threadTitleLimit = 60

// RoomService manages room lifecycle: open/closed creation, lazy direct
// rooms per user-set, lazy thread rooms per parent message, and the
// all-or-nothing deactivation cascade.
type RoomService struct {
	db          *gorm.DB
	rooms       repository.RoomRepository
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
	users       repository.UserRepository
	members     *MembershipService
}

// NewRoomService returns a new RoomService.
func NewRoomService(
	db *gorm.DB,
	rooms repository.RoomRepository,
	memberships repository.MembershipRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	members *MembershipService,
) *RoomService {
	return &RoomService{
		db:          db,
		rooms:       rooms,
		memberships: memberships,
		messages:    messages,
		users:       users,
		members:     members,
	}
}

// CreateRoomInput is the input for creating an open or closed room.
type CreateRoomInput struct {
	Name      string
	Kind      models.RoomKind
	CreatorID uint
	MemberIDs []uint
}

// CreateRoom creates an open or closed room. Open rooms immediately pull
// in every active user; closed rooms start with the creator plus the
// given members.
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (*models.Room, error) {
	name := strings.TrimSpace(in.Name)
	if err := validation.ValidateRoomName(name); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if in.Kind != models.RoomKindOpen && in.Kind != models.RoomKindClosed {
		return nil, models.NewValidationError("Room kind must be open or closed")
	}

	room := &models.Room{
		Name:      name,
		Kind:      in.Kind,
		Active:    true,
		CreatorID: in.CreatorID,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}

	if room.Open() {
		if err := s.members.ReconcileOpenRoom(ctx, room.ID); err != nil {
			return nil, err
		}
	} else {
		grantIDs := append([]uint{in.CreatorID}, in.MemberIDs...)
		if err := s.members.Grant(ctx, room.ID, grantIDs); err != nil {
			return nil, err
		}
	}

	cache.Invalidate(ctx, cache.SharedRoomsKey())
	return room, nil
}

// FindOrCreateDirectRoom returns the direct room for exactly this user
// set, creating it lazily on first use.
func (s *RoomService) FindOrCreateDirectRoom(ctx context.Context, creatorID uint, userIDs []uint) (*models.Room, error) {
	set := map[uint]struct{}{creatorID: {}}
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	if len(set) < 2 {
		return nil, models.NewValidationError("A direct room needs at least two users")
	}
	ids := make([]uint, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(users) != len(ids) {
		return nil, models.NewNotFoundError("One or more users not found")
	}

	if existing, err := s.rooms.FindDirectByUserSet(ctx, ids); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}

	room := &models.Room{
		Name:      strings.Join(names, ", "),
		Kind:      models.RoomKindDirect,
		Active:    true,
		CreatorID: creatorID,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}
	if err := s.members.Grant(ctx, room.ID, ids); err != nil {
		return nil, err
	}
	return room, nil
}

// FindOrCreateThread returns the thread hanging off the parent message,
// creating it on first use. At most one thread exists per parent message;
// a creation race loses to the unique index and reloads the winner.
func (s *RoomService) FindOrCreateThread(ctx context.Context, parentMessageID, creatorID uint) (*models.Room, error) {
	parent, err := s.messages.GetByID(ctx, parentMessageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Parent message not found")
		}
		return nil, err
	}

	if m, err := s.memberships.Get(ctx, parent.RoomID, creatorID); err != nil || !m.Active {
		return nil, models.NewForbiddenError("You are not a member of this room")
	}

	if existing, err := s.rooms.GetThreadByParent(ctx, parent.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	thread := &models.Room{
		Name:            threadTitle(parent.Body),
		Kind:            models.RoomKindThread,
		Active:          true,
		ParentMessageID: &parent.ID,
		CreatorID:       creatorID,
	}
	if err := s.rooms.Create(ctx, thread); err != nil {
		// Another request created the thread first.
		if existing, lookupErr := s.rooms.GetThreadByParent(ctx, parent.ID); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}

	grantIDs := []uint{creatorID}
	if parent.CreatorID != creatorID {
		grantIDs = append(grantIDs, parent.CreatorID)
	}
	if err := s.members.Grant(ctx, thread.ID, grantIDs); err != nil {
		return nil, err
	}

	return thread, nil
}

// GetRoom returns a room the user can see.
func (s *RoomService) GetRoom(ctx context.Context, roomID, userID uint) (*models.Room, error) {
	m, err := s.memberships.Get(ctx, roomID, userID)
	if err != nil || !m.Active {
		return nil, models.NewForbiddenError("You are not a member of this room")
	}
	room, err := s.rooms.GetActiveByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Room not found")
		}
		return nil, err
	}
	return room, nil
}

// ListSharedRooms returns the open and closed rooms, cache-aside.
func (s *RoomService) ListSharedRooms(ctx context.Context) ([]*models.Room, error) {
	var rooms []*models.Room
	err := cache.Aside(ctx, cache.SharedRoomsKey(), &rooms, cache.ListTTL, func() error {
		var fetchErr error
		rooms, fetchErr = s.rooms.ListShared(ctx)
		return fetchErr
	})
	return rooms, err
}

// ListVisibleMemberships returns the user's sidebar: visible memberships
// with rooms preloaded, most recently active first.
func (s *RoomService) ListVisibleMemberships(ctx context.Context, userID uint) ([]*models.Membership, error) {
	return s.memberships.ListVisibleForUser(ctx, userID)
}

// DeactivateRoom soft-deletes the room, its memberships and messages, and
// every thread spawned from it. All-or-nothing: a failure anywhere rolls
// the whole cascade back.
func (s *RoomService) DeactivateRoom(ctx context.Context, roomID, actorID uint) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Room not found")
		}
		return err
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if room.CreatorID != actor.ID && !actor.Administrator() {
		return models.NewForbiddenError("You cannot delete this room")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		targets := []uint{room.ID}
		if !room.Thread() {
			threads, err := s.rooms.WithTx(tx).ListThreadsUnderRoom(ctx, room.ID)
			if err != nil {
				return err
			}
			for _, thread := range threads {
				targets = append(targets, thread.ID)
			}
		}
		for _, id := range targets {
			if err := s.deactivateOneTx(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	cache.InvalidateRoom(ctx, room.ID)
	return nil
}

func (s *RoomService) deactivateOneTx(ctx context.Context, tx *gorm.DB, roomID uint) error {
	if err := s.rooms.WithTx(tx).SetActive(ctx, roomID, false); err != nil {
		return err
	}
	if err := tx.Model(&models.Membership{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{"active": false, "unread_at": nil, "connections": 0, "connected_at": nil}).Error; err != nil {
		return err
	}
	return tx.Model(&models.Message{}).
		Where("room_id = ?", roomID).
		Update("active", false).Error
}

// ReactivateRoom restores a deactivated room with its memberships,
// messages, and threads.
func (s *RoomService) ReactivateRoom(ctx context.Context, roomID, actorID uint) error {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Administrator() {
		return models.NewForbiddenError("Only administrators can restore rooms")
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Room not found")
		}
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		targets := []uint{room.ID}
		if !room.Thread() {
			threads, err := s.rooms.WithTx(tx).ListThreadsUnderRoom(ctx, room.ID)
			if err != nil {
				return err
			}
			for _, thread := range threads {
				targets = append(targets, thread.ID)
			}
		}
		for _, id := range targets {
			if err := s.rooms.WithTx(tx).SetActive(ctx, id, true); err != nil {
				return err
			}
			if err := tx.Model(&models.Membership{}).
				Where("room_id = ?", id).
				Update("active", true).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Message{}).
				Where("room_id = ?", id).
				Update("active", true).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	cache.InvalidateRoom(ctx, room.ID)
	return nil
}

// ConvertToOpen flips a closed room open and runs the one-time membership
// reconciliation so every active user gains access.
func (s *RoomService) ConvertToOpen(ctx context.Context, roomID, actorID uint) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Room not found")
		}
		return err
	}
	if !room.Closed() {
		return models.NewValidationError("Only closed rooms can be converted to open")
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if room.CreatorID != actor.ID && !actor.Administrator() {
		return models.NewForbiddenError("You cannot change this room")
	}

	if err := s.rooms.SetKind(ctx, room.ID, models.RoomKindOpen); err != nil {
		return err
	}
	cache.InvalidateRoom(ctx, room.ID)
	return s.members.ReconcileOpenRoom(ctx, room.ID)
}

func threadTitle(parentBody string) string {
	title := strings.TrimSpace(parentBody)
	runes := []rune(title)
	if len(runes) > threadTitleLimit {
		title = string(runes[:threadTitleLimit]) + "…"
	}
	return title
}
