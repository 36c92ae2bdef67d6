package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"campfire/internal/middleware"
	"campfire/internal/models"
	"campfire/internal/repository"
	"campfire/internal/validation"
)

const sessionTTL = 30 * 24 * time.Hour

// UserService handles accounts: registration, login, and deactivation.
// New users land in every open room automatically.
type UserService struct {
	db      *gorm.DB
	users   repository.UserRepository
	members *MembershipService
}

// NewUserService returns a new UserService.
func NewUserService(db *gorm.DB, users repository.UserRepository, members *MembershipService) *UserService {
	return &UserService{db: db, users: users, members: members}
}

// RegisterInput is the input for creating an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     models.UserRole
}

// Register creates the account and joins it to every open room.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" || email == "" {
		return nil, models.NewValidationError("Name and email are required")
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if in.Role == "" {
		in.Role = models.UserRoleMember
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, models.NewConflictError("Email is already taken")
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Name:           name,
		Email:          email,
		PasswordDigest: string(digest),
		Role:           in.Role,
		Active:         true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.members.GrantOpenRooms(ctx, user.ID); err != nil {
		middleware.Logger.WarnContext(ctx, "open room grant failed", "user_id", user.ID, "error", err)
	}

	return user, nil
}

// Login verifies credentials and returns the user plus a signed token.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", models.NewUnauthorizedError("Invalid email or password")
		}
		return nil, "", err
	}
	if !user.Active {
		return nil, "", models.NewUnauthorizedError("Account is deactivated")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordDigest), []byte(password)); err != nil {
		return nil, "", models.NewUnauthorizedError("Invalid email or password")
	}

	token, err := middleware.IssueToken(user.ID, sessionTTL)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	user.LastActiveAt = &now
	_ = s.users.Update(ctx, user)

	return user, token, nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User not found")
		}
		return nil, err
	}
	return user, nil
}

// ListActive returns every active user, for member pickers.
func (s *UserService) ListActive(ctx context.Context) ([]*models.User, error) {
	return s.users.ListActive(ctx)
}

// Deactivate disables the account and its memberships.
func (s *UserService) Deactivate(ctx context.Context, id, actorID uint) error {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.ID != id && !actor.Administrator() {
		return models.NewForbiddenError("You cannot deactivate this account")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", id).Update("active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.Membership{}).
			Where("user_id = ?", id).
			Updates(map[string]interface{}{"active": false, "unread_at": nil, "connections": 0, "connected_at": nil}).Error
	})
}

// Reactivate restores the account and rejoins it to open rooms.
func (s *UserService) Reactivate(ctx context.Context, id, actorID uint) error {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Administrator() {
		return models.NewForbiddenError("Only administrators can restore accounts")
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("active", true).Error; err != nil {
		return err
	}
	return s.members.GrantOpenRooms(ctx, id)
}
