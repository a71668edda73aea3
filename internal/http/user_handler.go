package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/fablab-backend/internal/application"
)

type userService interface {
	AddUser(ctx context.Context, params application.AddUserParams) (application.User, error)
	GetUser(ctx context.Context, id int64) (application.User, error)
	GetUserByCard(ctx context.Context, cardUUID string) (application.User, error)
	FindUserByName(ctx context.Context, name, surname string) (application.User, error)
	ListUsers(ctx context.Context) ([]application.User, error)
	GetUserRole(ctx context.Context, userID int64) (application.Role, error)
	GetUserAuthorizations(ctx context.Context, userID int64) ([]application.MachineType, error)
	SetUserRole(ctx context.Context, userID, roleID int64) error
	SetUserName(ctx context.Context, userID int64, name, surname string) error
	SetUserCardUUID(ctx context.Context, userID int64, cardUUID *string) error
	RemoveUser(ctx context.Context, userID int64) error
}

var errPartialNameQuery = errors.New("name and surname must be given together")

type UserHandler struct {
	service   userService
	responder responder
	logger    *slog.Logger
}

func NewUserHandler(service userService, logger *slog.Logger) *UserHandler {
	base := defaultLogger(logger)
	return &UserHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *UserHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "UserHandler", operation, attrs...)
}

func (h *UserHandler) missing(w http.ResponseWriter, r *http.Request) bool {
	if h == nil || h.service == nil {
		newResponder(nil).writeError(r.Context(), w, http.StatusInternalServerError, errServiceMissing)
		return true
	}
	return false
}

func (h *UserHandler) fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(r.Context(), msg, "error", err, "error_kind", application.ErrorKind(err))
	h.responder.handleServiceError(r.Context(), w, err)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}

	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode user request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), "Create")
	user, err := h.service.AddUser(r.Context(), req.toParams())
	if err != nil {
		h.fail(w, r, logger, "user creation failed", err)
		return
	}

	logger.With("user_id", user.ID).InfoContext(r.Context(), "user created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, userResponse{User: toUserDTO(user)})
}

// List returns every user, or the single match when the query carries
// name+surname or card_uuid.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}

	logger := h.log(r.Context(), "List")
	name, surname := queryString(r, "name"), queryString(r, "surname")
	card := queryString(r, "card_uuid")

	var (
		user application.User
		err  error
	)
	switch {
	case card != nil:
		user, err = h.service.GetUserByCard(r.Context(), *card)
	case name != nil && surname != nil:
		user, err = h.service.FindUserByName(r.Context(), *name, *surname)
	case name != nil || surname != nil:
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errPartialNameQuery)
		return
	default:
		users, err := h.service.ListUsers(r.Context())
		if err != nil {
			h.fail(w, r, logger, "user list failed", err)
			return
		}
		logger.With("result_count", len(users)).DebugContext(r.Context(), "users listed")
		h.responder.writeJSON(r.Context(), w, http.StatusOK, listUsersResponse{Users: toUserDTOs(users)})
		return
	}
	if err != nil {
		h.fail(w, r, logger, "user search failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listUsersResponse{Users: []userDTO{toUserDTO(user)}})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "userID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "Get", "user_id", id), "user lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

// Update applies the fields present in the body. A lone name or surname is
// combined with the stored counterpart; "card_uuid": null unbinds the card.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "userID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	var req userUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), "Update", "user_id", id)
	if req.RoleID != nil {
		if err := h.service.SetUserRole(r.Context(), id, *req.RoleID); err != nil {
			h.fail(w, r, logger, "user role update failed", err)
			return
		}
	}
	if req.Name != nil || req.Surname != nil {
		name, surname := req.Name, req.Surname
		if name == nil || surname == nil {
			current, err := h.service.GetUser(r.Context(), id)
			if err != nil {
				h.fail(w, r, logger, "user lookup failed", err)
				return
			}
			if name == nil {
				name = &current.Name
			}
			if surname == nil {
				surname = &current.Surname
			}
		}
		if err := h.service.SetUserName(r.Context(), id, *name, *surname); err != nil {
			h.fail(w, r, logger, "user rename failed", err)
			return
		}
	}
	if req.CardUUID.Set {
		if err := h.service.SetUserCardUUID(r.Context(), id, req.CardUUID.Value); err != nil {
			h.fail(w, r, logger, "user card update failed", err)
			return
		}
	}

	logger.InfoContext(r.Context(), "user updated")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "userID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), "Delete", "user_id", id)
	if err := h.service.RemoveUser(r.Context(), id); err != nil {
		h.fail(w, r, logger, "user delete failed", err)
		return
	}

	logger.InfoContext(r.Context(), "user deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *UserHandler) Role(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "userID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	role, err := h.service.GetUserRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "Role", "user_id", id), "user role lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, roleResponse{Role: toRoleDTO(role)})
}

func (h *UserHandler) Authorizations(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "userID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	types, err := h.service.GetUserAuthorizations(r.Context(), id)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "Authorizations", "user_id", id), "user authorization lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMachineTypesResponse{MachineTypes: toMachineTypeDTOs(types)})
}

type userRequest struct {
	ID               *int64  `json:"id"`
	Name             string  `json:"name"`
	Surname          string  `json:"surname"`
	RoleID           *int64  `json:"role_id"`
	CardUUID         *string `json:"card_uuid"`
	AuthorizationIDs []int64 `json:"authorization_ids"`
}

func (r userRequest) toParams() application.AddUserParams {
	var card *string
	if r.CardUUID != nil {
		if trimmed := strings.TrimSpace(*r.CardUUID); trimmed != "" {
			card = &trimmed
		}
	}
	return application.AddUserParams{
		ID:               r.ID,
		Name:             strings.TrimSpace(r.Name),
		Surname:          strings.TrimSpace(r.Surname),
		RoleID:           r.RoleID,
		CardUUID:         card,
		AuthorizationIDs: r.AuthorizationIDs,
	}
}

type userUpdateRequest struct {
	Name     *string        `json:"name"`
	Surname  *string        `json:"surname"`
	RoleID   *int64         `json:"role_id"`
	CardUUID nullableString `json:"card_uuid"`
}

type userResponse struct {
	User userDTO `json:"user"`
}

type listUsersResponse struct {
	Users []userDTO `json:"users"`
}

type userDTO struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Surname          string  `json:"surname"`
	RoleID           *int64  `json:"role_id"`
	CardUUID         *string `json:"card_uuid"`
	AuthorizationIDs []int64 `json:"authorization_ids"`
}

func toUserDTO(user application.User) userDTO {
	ids := user.AuthorizationIDs
	if ids == nil {
		ids = []int64{}
	}
	return userDTO{
		ID:               user.ID,
		Name:             user.Name,
		Surname:          user.Surname,
		RoleID:           user.RoleID,
		CardUUID:         user.CardUUID,
		AuthorizationIDs: ids,
	}
}

func toUserDTOs(users []application.User) []userDTO {
	out := make([]userDTO, 0, len(users))
	for _, user := range users {
		out = append(out, toUserDTO(user))
	}
	return out
}
