package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/fablab-backend/internal/persistence"
)

type identityKind uint8

const (
	identityUnset identityKind = iota
	identityUserID
	identityCard
)

// UserIdentity selects a user either by id or by the UUID of their access card.
// The zero value selects nobody and resolves to ErrInvalidQuery.
type UserIdentity struct {
	kind     identityKind
	userID   int64
	cardUUID string
}

// ByUserID identifies a user by id.
func ByUserID(id int64) UserIdentity {
	return UserIdentity{kind: identityUserID, userID: id}
}

// ByCardUUID identifies a user by access card.
func ByCardUUID(uuid string) UserIdentity {
	return UserIdentity{kind: identityCard, cardUUID: strings.TrimSpace(uuid)}
}

// IdentityFrom builds an identity from optional request parameters. Exactly one
// of userID and cardUUID must be provided.
func IdentityFrom(userID *int64, cardUUID *string) (UserIdentity, error) {
	hasCard := cardUUID != nil && strings.TrimSpace(*cardUUID) != ""
	switch {
	case userID != nil && hasCard:
		return UserIdentity{}, fmt.Errorf("%w: give either user_id or card_uuid, not both", ErrInvalidQuery)
	case userID != nil:
		return ByUserID(*userID), nil
	case hasCard:
		return ByCardUUID(*cardUUID), nil
	}
	return UserIdentity{}, fmt.Errorf("%w: user_id or card_uuid is required", ErrInvalidQuery)
}

// IsZero reports whether the identity selects nobody.
func (i UserIdentity) IsZero() bool {
	return i.kind == identityUnset
}

func (i UserIdentity) String() string {
	switch i.kind {
	case identityUserID:
		return fmt.Sprintf("user_id=%d", i.userID)
	case identityCard:
		return "card_uuid=" + i.cardUUID
	}
	return "unset"
}

// LogValue keeps card UUIDs out of logs except for their last four characters.
func (i UserIdentity) LogValue() slog.Value {
	if i.kind == identityCard && len(i.cardUUID) > 4 {
		return slog.StringValue("card_uuid=..." + i.cardUUID[len(i.cardUUID)-4:])
	}
	return slog.StringValue(i.String())
}

// UserLookup is the subset of the user repository identity resolution needs.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (persistence.User, error)
	GetUserByCard(ctx context.Context, cardUUID string) (persistence.User, error)
}

// identityResolver turns a UserIdentity into a stored user, consulting the card
// cache before the store for card lookups.
type identityResolver struct {
	users UserLookup
	cards *CardCache
}

func (r identityResolver) resolve(ctx context.Context, identity UserIdentity) (persistence.User, error) {
	if r.users == nil {
		return persistence.User{}, fmt.Errorf("user repository not configured")
	}

	switch identity.kind {
	case identityUserID:
		user, err := r.users.GetUser(ctx, identity.userID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return persistence.User{}, notFound("user", "user_id", identity.userID)
			}
			return persistence.User{}, mapStoreError(err)
		}
		return user, nil

	case identityCard:
		if identity.cardUUID == "" {
			return persistence.User{}, fmt.Errorf("%w: card_uuid is empty", ErrInvalidQuery)
		}
		if id, ok := r.cards.Get(identity.cardUUID); ok {
			user, err := r.users.GetUser(ctx, id)
			if err == nil && user.CardUUID != nil && *user.CardUUID == identity.cardUUID {
				return user, nil
			}
			r.cards.Remove(identity.cardUUID)
		}
		user, err := r.users.GetUserByCard(ctx, identity.cardUUID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return persistence.User{}, notFound("user", "card_uuid", identity.cardUUID)
			}
			return persistence.User{}, mapStoreError(err)
		}
		r.cards.Add(identity.cardUUID, user.ID)
		return user, nil
	}

	return persistence.User{}, fmt.Errorf("%w: user_id or card_uuid is required", ErrInvalidQuery)
}
