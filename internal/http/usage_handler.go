package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/fablab-backend/internal/application"
)

type usageService interface {
	StartUse(ctx context.Context, params application.UseParams) (application.UsageSession, error)
	EndUse(ctx context.Context, params application.UseParams) (application.EndUseResult, error)
	IsMachineCurrentlyUsed(ctx context.Context, machineID int64) (bool, error)
	GetCurrentlyUsedMachines(ctx context.Context) ([]application.Machine, error)
	GetUserTotalTime(ctx context.Context, userID int64) (time.Duration, error)
	GetUserSessions(ctx context.Context, identity application.UserIdentity) ([]application.UsageSession, error)
}

type authorizationService interface {
	IsAuthorized(ctx context.Context, machineID int64, identity application.UserIdentity) (application.AuthorizationDecision, error)
	SetAuthorization(ctx context.Context, userID int64, typeIDs []int64) error
}

// UsageHandler serves usage sessions and authorization checks.
type UsageHandler struct {
	sessions  usageService
	authz     authorizationService
	responder responder
	logger    *slog.Logger
}

func NewUsageHandler(sessions usageService, authz authorizationService, logger *slog.Logger) *UsageHandler {
	base := defaultLogger(logger)
	return &UsageHandler{sessions: sessions, authz: authz, responder: newResponder(base), logger: base}
}

func (h *UsageHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "UsageHandler", operation, attrs...)
}

func (h *UsageHandler) missing(w http.ResponseWriter, r *http.Request, authz bool) bool {
	if h == nil || h.sessions == nil || (authz && h.authz == nil) {
		newResponder(nil).writeError(r.Context(), w, http.StatusInternalServerError, errServiceMissing)
		return true
	}
	return false
}

func (h *UsageHandler) fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(r.Context(), msg, "error", err, "error_kind", application.ErrorKind(err))
	h.responder.handleServiceError(r.Context(), w, err)
}

// useParams reads the machine from the path and the identity from the body.
func (h *UsageHandler) useParams(w http.ResponseWriter, r *http.Request) (application.UseParams, bool) {
	machineID, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return application.UseParams{}, false
	}
	var req useRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return application.UseParams{}, false
	}
	identity, err := application.IdentityFrom(req.UserID, req.CardUUID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return application.UseParams{}, false
	}
	return application.UseParams{MachineID: machineID, Identity: identity, Timestamp: req.Timestamp}, true
}

func (h *UsageHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, false) {
		return
	}
	params, ok := h.useParams(w, r)
	if !ok {
		return
	}
	session, err := h.sessions.StartUse(r.Context(), params)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "StartSession", "machine_id", params.MachineID, "identity", params.Identity), "session start failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, sessionResponse{Session: toSessionDTO(session)})
}

func (h *UsageHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, false) {
		return
	}
	params, ok := h.useParams(w, r)
	if !ok {
		return
	}
	result, err := h.sessions.EndUse(r.Context(), params)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "EndSession", "machine_id", params.MachineID, "identity", params.Identity), "session end failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, endSessionResponse{
		Session:         toSessionDTO(result.Session),
		DurationSeconds: result.Duration.Seconds(),
	})
}

func (h *UsageHandler) MachineInUse(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, false) {
		return
	}
	machineID, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	inUse, err := h.sessions.IsMachineCurrentlyUsed(r.Context(), machineID)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "MachineInUse", "machine_id", machineID), "in-use check failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, inUseResponse{MachineID: machineID, InUse: inUse})
}

func (h *UsageHandler) MachinesInUse(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, false) {
		return
	}
	machines, err := h.sessions.GetCurrentlyUsedMachines(r.Context())
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "MachinesInUse"), "in-use listing failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMachinesResponse{Machines: toMachineDTOs(machines)})
}

func (h *UsageHandler) UserTotalTime(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, false) {
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	total, err := h.sessions.GetUserTotalTime(r.Context(), userID)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "UserTotalTime", "user_id", userID), "total time lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, totalTimeResponse{UserID: userID, TotalSeconds: total.Seconds()})
}

func (h *UsageHandler) UserSessions(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, false) {
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	h.listSessions(w, r, application.ByUserID(userID))
}

// Sessions lists the sessions of the user selected by user_id or card_uuid.
func (h *UsageHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, false) {
		return
	}
	userID, err := queryID(r, "user_id")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	identity, err := application.IdentityFrom(userID, queryString(r, "card_uuid"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.listSessions(w, r, identity)
}

func (h *UsageHandler) listSessions(w http.ResponseWriter, r *http.Request, identity application.UserIdentity) {
	sessions, err := h.sessions.GetUserSessions(r.Context(), identity)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "Sessions", "identity", identity), "session listing failed", err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, toSessionDTO(session))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSessionsResponse{Sessions: out})
}

// Authorization answers whether the user in the query may operate the machine.
func (h *UsageHandler) Authorization(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, true) {
		return
	}
	machineID, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	userID, err := queryID(r, "user_id")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	identity, err := application.IdentityFrom(userID, queryString(r, "card_uuid"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	decision, err := h.authz.IsAuthorized(r.Context(), machineID, identity)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "Authorization", "machine_id", machineID, "identity", identity), "authorization check failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, authorizationResponse{
		MachineID:  decision.MachineID,
		UserID:     decision.UserID,
		Authorized: decision.Authorized,
		ByRole:     decision.ByRole,
	})
}

// ReplaceAuthorizations sets the user's machine type grants to exactly the given list.
func (h *UsageHandler) ReplaceAuthorizations(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r, true) {
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	var req authorizationsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), "ReplaceAuthorizations", "user_id", userID, "type_ids", req.TypeIDs)
	if err := h.authz.SetAuthorization(r.Context(), userID, req.TypeIDs); err != nil {
		h.fail(w, r, logger, "authorization update failed", err)
		return
	}
	logger.InfoContext(r.Context(), "authorizations replaced")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type useRequest struct {
	UserID    *int64     `json:"user_id"`
	CardUUID  *string    `json:"card_uuid"`
	Timestamp *time.Time `json:"timestamp"`
}

type authorizationsRequest struct {
	TypeIDs []int64 `json:"type_ids"`
}

type sessionDTO struct {
	ID        int64   `json:"id"`
	UserID    int64   `json:"user_id"`
	MachineID int64   `json:"machine_id"`
	Start     string  `json:"start"`
	End       *string `json:"end"`
	Active    bool    `json:"active"`
}

func toSessionDTO(session application.UsageSession) sessionDTO {
	dto := sessionDTO{
		ID:        session.ID,
		UserID:    session.UserID,
		MachineID: session.MachineID,
		Start:     session.Start.UTC().Format(time.RFC3339Nano),
		Active:    session.Active(),
	}
	if session.End != nil {
		end := session.End.UTC().Format(time.RFC3339Nano)
		dto.End = &end
	}
	return dto
}

type sessionResponse struct {
	Session sessionDTO `json:"session"`
}

type endSessionResponse struct {
	Session         sessionDTO `json:"session"`
	DurationSeconds float64    `json:"duration_seconds"`
}

type listSessionsResponse struct {
	Sessions []sessionDTO `json:"sessions"`
}

type inUseResponse struct {
	MachineID int64 `json:"machine_id"`
	InUse     bool  `json:"in_use"`
}

type totalTimeResponse struct {
	UserID       int64   `json:"user_id"`
	TotalSeconds float64 `json:"total_seconds"`
}

type authorizationResponse struct {
	MachineID  int64 `json:"machine_id"`
	UserID     int64 `json:"user_id"`
	Authorized bool  `json:"authorized"`
	ByRole     bool  `json:"by_role"`
}
