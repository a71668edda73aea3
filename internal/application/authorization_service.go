package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/fablab-backend/internal/persistence"
)

var authorizationDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fablab_authorization_decisions_total",
		Help: "Authorization checks by outcome.",
	},
	[]string{"result"},
)

// AuthorizationStore is the persistence surface the authorization engine needs.
type AuthorizationStore interface {
	persistence.ReferenceChecker
	UserLookup
	GetMachine(ctx context.Context, id int64) (persistence.Machine, error)
	GetRole(ctx context.Context, id int64) (persistence.Role, error)
	ReplaceUserAuthorizations(ctx context.Context, id int64, typeIDs []int64) error
}

// AuthorizationEngine decides whether a user may operate a machine and
// maintains per-user machine type grants.
type AuthorizationEngine struct {
	store     AuthorizationStore
	validator ReferenceValidator
	users     identityResolver
	logger    *slog.Logger
}

// NewAuthorizationEngine constructs an engine. cards may be nil.
func NewAuthorizationEngine(store AuthorizationStore, cards *CardCache) *AuthorizationEngine {
	return NewAuthorizationEngineWithLogger(store, cards, nil)
}

// NewAuthorizationEngineWithLogger constructs an engine with a specified logger.
func NewAuthorizationEngineWithLogger(store AuthorizationStore, cards *CardCache, logger *slog.Logger) *AuthorizationEngine {
	return &AuthorizationEngine{
		store:     store,
		validator: NewReferenceValidator(store),
		users:     identityResolver{users: store, cards: cards},
		logger:    defaultLogger(logger),
	}
}

func (e *AuthorizationEngine) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, e.logger, "AuthorizationEngine", operation, attrs...)
}

func (e *AuthorizationEngine) ready() error {
	if e == nil {
		return fmt.Errorf("AuthorizationEngine is nil")
	}
	if e.store == nil {
		return fmt.Errorf("authorization store not configured")
	}
	return nil
}

// IsAuthorized reports whether the identified user may use the machine. A
// role with AuthorizeAll grants every machine; otherwise the machine's type
// must be among the user's grants. A role id that no longer resolves grants
// nothing. The check has no side effects.
func (e *AuthorizationEngine) IsAuthorized(ctx context.Context, machineID int64, identity UserIdentity) (AuthorizationDecision, error) {
	if err := e.ready(); err != nil {
		return AuthorizationDecision{}, err
	}
	if identity.IsZero() {
		return AuthorizationDecision{}, fmt.Errorf("%w: user_id or card_uuid is required", ErrInvalidQuery)
	}

	machine, err := e.store.GetMachine(ctx, machineID)
	if err != nil {
		return AuthorizationDecision{}, mapEntityError(err, "machine", machineID)
	}
	user, err := e.users.resolve(ctx, identity)
	if err != nil {
		return AuthorizationDecision{}, err
	}

	decision := AuthorizationDecision{MachineID: machineID, UserID: user.ID}
	if user.RoleID != nil {
		role, err := e.store.GetRole(ctx, *user.RoleID)
		switch {
		case err == nil && role.AuthorizeAll:
			decision.Authorized = true
			decision.ByRole = true
		case err != nil && !errors.Is(err, persistence.ErrNotFound):
			return AuthorizationDecision{}, mapStoreError(err)
		}
	}
	if !decision.Authorized {
		decision.Authorized = slices.Contains(user.AuthorizationIDs, machine.TypeID)
	}

	result := "denied"
	if decision.Authorized {
		result = "granted"
	}
	authorizationDecisionsTotal.WithLabelValues(result).Inc()
	e.loggerWith(ctx, "IsAuthorized",
		"machine_id", machineID,
		"user_id", user.ID,
		"result", result,
	).DebugContext(ctx, "authorization decided")

	return decision, nil
}

// SetAuthorization replaces the user's machine type grants with typeIDs. Every
// id must name an existing machine type; the first one that does not fails the
// whole call and leaves the grants unchanged.
func (e *AuthorizationEngine) SetAuthorization(ctx context.Context, userID int64, typeIDs []int64) (err error) {
	if err = e.ready(); err != nil {
		return
	}
	logger := e.loggerWith(ctx, "SetAuthorization", "user_id", userID, "type_ids", typeIDs)
	defer func() { logOutcome(ctx, logger, err, "failed to set authorizations", "authorizations set") }()

	if err = e.validator.Require(ctx, persistence.KindUser, "user_id", userID); err != nil {
		return
	}
	if err = e.validator.RequireAll(ctx, persistence.KindMachineType, "authorization_ids", typeIDs); err != nil {
		return
	}
	err = mapStoreError(e.store.ReplaceUserAuthorizations(ctx, userID, typeIDs))
	return
}
