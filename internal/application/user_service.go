package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/fablab-backend/internal/persistence"
)

// UserStore is the persistence surface the user service needs.
type UserStore interface {
	persistence.ReferenceChecker
	persistence.UserRepository
	GetRole(ctx context.Context, id int64) (persistence.Role, error)
	GetMachineType(ctx context.Context, id int64) (persistence.MachineType, error)
}

// UserService manages facility members, their roles and access cards.
type UserService struct {
	store     UserStore
	validator ReferenceValidator
	cards     *CardCache
	logger    *slog.Logger
}

// NewUserService wires dependencies for the user service. cards may be nil.
func NewUserService(store UserStore, cards *CardCache) *UserService {
	return NewUserServiceWithLogger(store, cards, nil)
}

// NewUserServiceWithLogger constructs a user service with a specified logger.
func NewUserServiceWithLogger(store UserStore, cards *CardCache, logger *slog.Logger) *UserService {
	return &UserService{
		store:     store,
		validator: NewReferenceValidator(store),
		cards:     cards,
		logger:    defaultLogger(logger),
	}
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "UserService", operation, attrs...)
}

func (s *UserService) ready() error {
	if s == nil {
		return fmt.Errorf("UserService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("user store not configured")
	}
	return nil
}

// AddUser validates references and stores a new user.
func (s *UserService) AddUser(ctx context.Context, params AddUserParams) (user User, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "AddUser")
	defer func() { logOutcome(ctx, logger, err, "failed to add user", "user added", "user_id", user.ID) }()

	id, vErr := resolveID("user_id", params.ID)
	if vErr == nil {
		vErr = &ValidationError{}
	}
	name := requireName(vErr, "name", params.Name)
	surname := requireName(vErr, "surname", params.Surname)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if params.RoleID != nil {
		if err = s.validator.Require(ctx, persistence.KindRole, "role_id", *params.RoleID); err != nil {
			return
		}
	}
	if err = s.validator.RequireAll(ctx, persistence.KindMachineType, "authorization_ids", params.AuthorizationIDs); err != nil {
		return
	}

	card := normalizeOptionalString(params.CardUUID)
	user, err = s.store.CreateUser(ctx, User{
		ID:               id,
		Name:             name,
		Surname:          surname,
		RoleID:           params.RoleID,
		AuthorizationIDs: params.AuthorizationIDs,
		CardUUID:         card,
	})
	err = mapEntityError(cardInUse(err, card), "user", id)
	return
}

func (s *UserService) GetUser(ctx context.Context, id int64) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	user, err := s.store.GetUser(ctx, id)
	return user, mapEntityError(err, "user", id)
}

// GetUserByCard resolves a user from an access card UUID.
func (s *UserService) GetUserByCard(ctx context.Context, cardUUID string) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	return identityResolver{users: s.store, cards: s.cards}.resolve(ctx, ByCardUUID(cardUUID))
}

// FindUserByName returns the user with exactly this name and surname.
func (s *UserService) FindUserByName(ctx context.Context, name, surname string) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	user, err := s.store.FindUserByName(ctx, name, surname)
	if errors.Is(err, persistence.ErrNotFound) {
		return User{}, notFound("user", "name", name+" "+surname)
	}
	return user, mapStoreError(err)
}

func (s *UserService) ListUsers(ctx context.Context) ([]User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	return users, mapStoreError(err)
}

// GetUserRole returns the role assigned to the user. A user without a role, or
// whose role has since been removed, yields ErrNotFound.
func (s *UserService) GetUserRole(ctx context.Context, userID int64) (Role, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return Role{}, err
	}
	if user.RoleID == nil {
		return Role{}, notFound("role", "role_id", nil)
	}
	role, err := s.store.GetRole(ctx, *user.RoleID)
	return role, mapEntityError(err, "role", *user.RoleID)
}

// GetUserAuthorizations resolves the user's granted machine types. Grants that
// point at removed types are skipped.
func (s *UserService) GetUserAuthorizations(ctx context.Context, userID int64) ([]MachineType, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	types := make([]MachineType, 0, len(user.AuthorizationIDs))
	for _, typeID := range user.AuthorizationIDs {
		machineType, err := s.store.GetMachineType(ctx, typeID)
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, mapStoreError(err)
		}
		types = append(types, machineType)
	}
	return types, nil
}

// SetUserRole assigns an existing role to the user.
func (s *UserService) SetUserRole(ctx context.Context, userID, roleID int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetUserRole", "user_id", userID, "role_id", roleID)
	defer func() { logOutcome(ctx, logger, err, "failed to set user role", "user role set") }()

	if err = s.validator.Require(ctx, persistence.KindRole, "role_id", roleID); err != nil {
		return
	}
	err = mapStoreError(s.store.UpdateUserRole(ctx, userID, roleID))
	return
}

func (s *UserService) SetUserName(ctx context.Context, userID int64, name, surname string) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetUserName", "user_id", userID)
	defer func() { logOutcome(ctx, logger, err, "failed to rename user", "user renamed") }()

	vErr := &ValidationError{}
	name = requireName(vErr, "name", name)
	surname = requireName(vErr, "surname", surname)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	err = mapStoreError(s.store.UpdateUserName(ctx, userID, name, surname))
	return
}

// SetUserCardUUID binds a card to the user; nil or blank unbinds it. A card
// already bound to someone else yields ErrAlreadyExists.
func (s *UserService) SetUserCardUUID(ctx context.Context, userID int64, cardUUID *string) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetUserCardUUID", "user_id", userID)
	defer func() { logOutcome(ctx, logger, err, "failed to set user card", "user card set") }()

	card := normalizeOptionalString(cardUUID)
	err = s.store.UpdateUserCard(ctx, userID, card)
	s.cards.RemoveUser(userID)
	if card != nil {
		s.cards.Remove(*card)
	}
	err = mapEntityError(cardInUse(err, card), "user", userID)
	return
}

// RemoveUser deletes the user. Sessions and interventions naming the user are kept.
func (s *UserService) RemoveUser(ctx context.Context, userID int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "RemoveUser", "user_id", userID)
	defer func() { logOutcome(ctx, logger, err, "failed to remove user", "user removed") }()

	err = mapStoreError(s.store.DeleteUser(ctx, userID))
	s.cards.RemoveUser(userID)
	return
}
