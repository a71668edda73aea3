package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/fablab-backend/internal/liveness"
	"github.com/example/fablab-backend/internal/testfixtures"
)

type apiEnv struct {
	handler http.Handler
	clock   *testfixtures.Clock
	tracker *liveness.Tracker
	fablab  testfixtures.Fablab
}

type pingStub struct {
	err error
}

func (p pingStub) Ping(context.Context) error {
	return p.err
}

func newAPI(t *testing.T) apiEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	harness, fablab := testfixtures.NewSeededHarness(t)

	factory := testfixtures.NewServiceFactory(testfixtures.WithLogger(logger))
	services := factory.Build(harness.Store)
	tracker := liveness.NewTracker(nil, factory.Clock.NowFunc(), logger)

	handler := NewRouter(RouterConfig{
		Catalog:       NewCatalogHandler(services.Catalog, logger),
		Users:         NewUserHandler(services.Users, logger),
		Machines:      NewMachineHandler(services.Machines, logger),
		Interventions: NewInterventionHandler(services.Interventions, logger),
		Usage:         NewUsageHandler(services.Sessions, services.Authorization, logger),
		Liveness:      NewLivenessHandler(tracker, harness.Store, time.Minute, logger),
		Logger:        logger,
		Metrics:       true,
	})

	return apiEnv{handler: handler, clock: factory.Clock, tracker: tracker, fablab: fablab}
}

func (e apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCatalogHandlers(t *testing.T) {
	t.Parallel()

	t.Run("role lifecycle", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		rec := api.do(t, http.MethodPost, "/api/roles", map[string]any{"name": "guest"})
		expectStatus(t, rec, http.StatusCreated)
		created := decodeBody[roleResponse](t, rec)
		if created.Role.ID != 2 || created.Role.Name != "guest" || created.Role.AuthorizeAll {
			t.Fatalf("unexpected role %+v", created.Role)
		}

		expectStatus(t, api.do(t, http.MethodPatch, "/api/roles/2", map[string]any{"authorize_all": true}), http.StatusNoContent)
		got := decodeBody[roleResponse](t, api.do(t, http.MethodGet, "/api/roles/2", nil))
		if !got.Role.AuthorizeAll {
			t.Fatalf("expected authorize_all to be updated, got %+v", got.Role)
		}

		expectStatus(t, api.do(t, http.MethodPatch, "/api/roles/99", map[string]any{"name": "ghost"}), http.StatusNoContent)
		expectStatus(t, api.do(t, http.MethodDelete, "/api/roles/2", nil), http.StatusNoContent)
		expectStatus(t, api.do(t, http.MethodDelete, "/api/roles/2", nil), http.StatusNoContent)
		expectStatus(t, api.do(t, http.MethodGet, "/api/roles/2", nil), http.StatusNotFound)

		list := decodeBody[listRolesResponse](t, api.do(t, http.MethodGet, "/api/roles", nil))
		if len(list.Roles) != 2 {
			t.Fatalf("expected the two seeded roles, got %+v", list.Roles)
		}
	})

	t.Run("maps failures to statuses", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		tests := []struct {
			name   string
			method string
			path   string
			body   any
			status int
			code   string
		}{
			{name: "duplicate id", method: http.MethodPost, path: "/api/roles", body: map[string]any{"id": 0, "name": "again"}, status: http.StatusConflict, code: "duplicate_id"},
			{name: "blank name", method: http.MethodPost, path: "/api/machine-types", body: map[string]any{"name": "  "}, status: http.StatusUnprocessableEntity, code: "validation"},
			{name: "negative interval", method: http.MethodPost, path: "/api/maintenances", body: map[string]any{"hours_between": -1}, status: http.StatusUnprocessableEntity, code: "validation"},
			{name: "unknown type", method: http.MethodGet, path: "/api/machine-types/42", status: http.StatusNotFound, code: "invalid_id"},
		}
		for _, tt := range tests {
			rec := api.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("%s: expected status %d, got %d: %s", tt.name, tt.status, rec.Code, rec.Body.String())
			}
			if body := decodeBody[errorResponse](t, rec); body.ErrorCode != tt.code {
				t.Fatalf("%s: expected error code %q, got %+v", tt.name, tt.code, body)
			}
		}

		expectStatus(t, api.do(t, http.MethodGet, "/api/roles/abc", nil), http.StatusBadRequest)
		expectStatus(t, api.do(t, http.MethodPost, "/api/roles", `{"name":"x","bogus":1}`), http.StatusBadRequest)
		expectStatus(t, api.do(t, http.MethodPost, "/api/roles", `{`), http.StatusBadRequest)
	})

	t.Run("maintenance description can be cleared", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		expectStatus(t, api.do(t, http.MethodPatch, "/api/maintenances/0", `{"description":null,"hours_between":250}`), http.StatusNoContent)
		got := decodeBody[maintenanceResponse](t, api.do(t, http.MethodGet, "/api/maintenances/0", nil))
		if got.Maintenance.Description != nil || got.Maintenance.HoursBetween != 250 {
			t.Fatalf("unexpected maintenance %+v", got.Maintenance)
		}
	})
}

func TestUserHandlers(t *testing.T) {
	t.Parallel()

	t.Run("create validates the role reference", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		rec := api.do(t, http.MethodPost, "/api/users", map[string]any{"name": "Anna", "surname": "Bianchi", "role_id": 42})
		expectStatus(t, rec, http.StatusNotFound)
		if body := decodeBody[errorResponse](t, rec); body.Field != "role_id" {
			t.Fatalf("expected role_id to be named, got %+v", body)
		}

		rec = api.do(t, http.MethodPost, "/api/users", map[string]any{"name": "Anna", "surname": "Bianchi", "role_id": 1, "authorization_ids": []int64{1}})
		expectStatus(t, rec, http.StatusCreated)
		created := decodeBody[userResponse](t, rec)
		if created.User.ID != 2 || len(created.User.AuthorizationIDs) != 1 {
			t.Fatalf("unexpected user %+v", created.User)
		}
	})

	t.Run("lookups by name and card", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		byName := decodeBody[listUsersResponse](t, api.do(t, http.MethodGet, "/api/users?name=Mario&surname=Rossi", nil))
		if len(byName.Users) != 1 || byName.Users[0].ID != api.fablab.Admin.ID {
			t.Fatalf("expected the admin, got %+v", byName.Users)
		}

		byCard := decodeBody[listUsersResponse](t, api.do(t, http.MethodGet, "/api/users?card_uuid="+testfixtures.MemberCard, nil))
		if len(byCard.Users) != 1 || byCard.Users[0].ID != api.fablab.Member.ID {
			t.Fatalf("expected the member, got %+v", byCard.Users)
		}

		expectStatus(t, api.do(t, http.MethodGet, "/api/users?name=Mario", nil), http.StatusBadRequest)
		expectStatus(t, api.do(t, http.MethodGet, "/api/users?name=Nobody&surname=Here", nil), http.StatusNotFound)

		all := decodeBody[listUsersResponse](t, api.do(t, http.MethodGet, "/api/users", nil))
		if len(all.Users) != 2 {
			t.Fatalf("expected two users, got %d", len(all.Users))
		}
	})

	t.Run("patch renames and unbinds the card", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		expectStatus(t, api.do(t, http.MethodPatch, "/api/users/1", `{"surname":"Neri","card_uuid":null}`), http.StatusNoContent)
		got := decodeBody[userResponse](t, api.do(t, http.MethodGet, "/api/users/1", nil))
		if got.User.Name != "Luigi" || got.User.Surname != "Neri" || got.User.CardUUID != nil {
			t.Fatalf("unexpected user %+v", got.User)
		}

		rec := api.do(t, http.MethodPatch, "/api/users/1", map[string]any{"card_uuid": testfixtures.AdminCard})
		expectStatus(t, rec, http.StatusConflict)

		role := decodeBody[roleResponse](t, api.do(t, http.MethodGet, "/api/users/0/role", nil))
		if role.Role.Name != "admin" {
			t.Fatalf("expected admin role, got %+v", role.Role)
		}
	})
}

func TestMachineHandlers(t *testing.T) {
	t.Parallel()
	api := newAPI(t)

	expectStatus(t, api.do(t, http.MethodPost, "/api/machines", map[string]any{"name": "CNC0", "type_id": 7}), http.StatusNotFound)

	rec := api.do(t, http.MethodPost, "/api/machines", map[string]any{"name": "CNC0", "type_id": 0, "hours": 12.5})
	expectStatus(t, rec, http.StatusCreated)
	machine := decodeBody[machineResponse](t, rec).Machine
	if machine.ID != 2 || machine.Hours != 12.5 || len(machine.MaintenanceIDs) != 0 {
		t.Fatalf("unexpected machine %+v", machine)
	}

	expectStatus(t, api.do(t, http.MethodPut, "/api/machines/2/maintenances/0", nil), http.StatusNoContent)
	expectStatus(t, api.do(t, http.MethodPut, "/api/machines/2/maintenances/0", nil), http.StatusNoContent)
	expectStatus(t, api.do(t, http.MethodPut, "/api/machines/2/maintenances/5", nil), http.StatusNotFound)

	maintenances := decodeBody[listMaintenancesResponse](t, api.do(t, http.MethodGet, "/api/machines/2/maintenances", nil))
	if len(maintenances.Maintenances) != 1 || maintenances.Maintenances[0].ID != 0 {
		t.Fatalf("expected one attached maintenance, got %+v", maintenances.Maintenances)
	}

	expectStatus(t, api.do(t, http.MethodDelete, "/api/machines/2/maintenances/0", nil), http.StatusNoContent)
	expectStatus(t, api.do(t, http.MethodPatch, "/api/machines/2", map[string]any{"name": "CNC1", "hours": 20}), http.StatusNoContent)

	machine = decodeBody[machineResponse](t, api.do(t, http.MethodGet, "/api/machines/2", nil)).Machine
	if machine.Name != "CNC1" || machine.Hours != 20 || len(machine.MaintenanceIDs) != 0 {
		t.Fatalf("unexpected machine after update %+v", machine)
	}

	expectStatus(t, api.do(t, http.MethodDelete, "/api/machines/2", nil), http.StatusNoContent)
	expectStatus(t, api.do(t, http.MethodGet, "/api/machines/2", nil), http.StatusNotFound)
}

func TestUsageHandlers(t *testing.T) {
	t.Parallel()

	t.Run("session lifecycle", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		rec := api.do(t, http.MethodPost, "/api/machines/0/sessions/start", map[string]any{"card_uuid": testfixtures.MemberCard})
		expectStatus(t, rec, http.StatusCreated)
		started := decodeBody[sessionResponse](t, rec).Session
		if !started.Active || started.UserID != api.fablab.Member.ID || started.End != nil {
			t.Fatalf("unexpected session %+v", started)
		}

		rec = api.do(t, http.MethodPost, "/api/machines/0/sessions/start", map[string]any{"user_id": 0})
		expectStatus(t, rec, http.StatusConflict)
		if body := decodeBody[errorResponse](t, rec); body.ErrorCode != "conflict" {
			t.Fatalf("expected conflict, got %+v", body)
		}

		inUse := decodeBody[inUseResponse](t, api.do(t, http.MethodGet, "/api/machines/0/in-use", nil))
		if !inUse.InUse {
			t.Fatalf("expected machine 0 in use")
		}
		used := decodeBody[listMachinesResponse](t, api.do(t, http.MethodGet, "/api/machines/in-use", nil))
		if len(used.Machines) != 1 || used.Machines[0].Name != "DRILL0" {
			t.Fatalf("expected DRILL0 in use, got %+v", used.Machines)
		}

		api.clock.Advance(90 * time.Minute)
		rec = api.do(t, http.MethodPost, "/api/machines/0/sessions/end", map[string]any{"user_id": 1})
		expectStatus(t, rec, http.StatusOK)
		ended := decodeBody[endSessionResponse](t, rec)
		if ended.DurationSeconds != 5400 || ended.Session.Active {
			t.Fatalf("unexpected end result %+v", ended)
		}

		expectStatus(t, api.do(t, http.MethodPost, "/api/machines/0/sessions/end", map[string]any{"user_id": 1}), http.StatusUnprocessableEntity)

		total := decodeBody[totalTimeResponse](t, api.do(t, http.MethodGet, "/api/users/1/total-time", nil))
		if total.TotalSeconds != 5400 {
			t.Fatalf("expected 5400s, got %v", total.TotalSeconds)
		}

		machine := decodeBody[machineResponse](t, api.do(t, http.MethodGet, "/api/machines/0", nil)).Machine
		if machine.Hours != api.fablab.DrillPress.Hours {
			t.Fatalf("expected machine hours to stay at %v, got %v", api.fablab.DrillPress.Hours, machine.Hours)
		}

		sessions := decodeBody[listSessionsResponse](t, api.do(t, http.MethodGet, "/api/sessions?card_uuid="+testfixtures.MemberCard, nil))
		if len(sessions.Sessions) != 1 || sessions.Sessions[0].End == nil {
			t.Fatalf("expected one closed session, got %+v", sessions.Sessions)
		}
	})

	t.Run("rejects bad identities", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		tests := []struct {
			name   string
			body   any
			path   string
			status int
		}{
			{name: "both identities", path: "/api/machines/0/sessions/start", body: map[string]any{"user_id": 0, "card_uuid": testfixtures.AdminCard}, status: http.StatusUnprocessableEntity},
			{name: "no identity", path: "/api/machines/0/sessions/start", body: map[string]any{}, status: http.StatusUnprocessableEntity},
			{name: "unknown card", path: "/api/machines/0/sessions/start", body: map[string]any{"card_uuid": "ff:ff"}, status: http.StatusNotFound},
			{name: "unknown machine", path: "/api/machines/9/sessions/start", body: map[string]any{"user_id": 0}, status: http.StatusNotFound},
			{name: "timestamp beyond 2262", path: "/api/machines/0/sessions/start", body: map[string]any{"user_id": 0, "timestamp": "2300-01-01T00:00:00Z"}, status: http.StatusUnprocessableEntity},
			{name: "end before start", path: "/api/machines/0/sessions/end", body: map[string]any{"user_id": 0, "timestamp": testfixtures.ReferenceTime().Add(-time.Hour)}, status: http.StatusUnprocessableEntity},
		}
		expectStatus(t, api.do(t, http.MethodPost, "/api/machines/0/sessions/start", map[string]any{"user_id": 0}), http.StatusCreated)
		for _, tt := range tests {
			if rec := api.do(t, http.MethodPost, tt.path, tt.body); rec.Code != tt.status {
				t.Fatalf("%s: expected %d, got %d: %s", tt.name, tt.status, rec.Code, rec.Body.String())
			}
		}
	})

	t.Run("authorization checks and replacement", func(t *testing.T) {
		t.Parallel()
		api := newAPI(t)

		decision := decodeBody[authorizationResponse](t, api.do(t, http.MethodGet, "/api/machines/0/authorization?user_id=1", nil))
		if decision.Authorized {
			t.Fatalf("expected member to be denied before any grant")
		}

		expectStatus(t, api.do(t, http.MethodPut, "/api/users/1/authorizations", map[string]any{"type_ids": []int64{0}}), http.StatusNoContent)
		decision = decodeBody[authorizationResponse](t, api.do(t, http.MethodGet, "/api/machines/0/authorization?card_uuid="+testfixtures.MemberCard, nil))
		if !decision.Authorized || decision.ByRole {
			t.Fatalf("expected grant through authorizations, got %+v", decision)
		}

		decision = decodeBody[authorizationResponse](t, api.do(t, http.MethodGet, "/api/machines/1/authorization?user_id=0", nil))
		if !decision.Authorized || !decision.ByRole {
			t.Fatalf("expected admin role grant, got %+v", decision)
		}

		rec := api.do(t, http.MethodPut, "/api/users/1/authorizations", map[string]any{"type_ids": []int64{8}})
		expectStatus(t, rec, http.StatusNotFound)

		granted := decodeBody[listMachineTypesResponse](t, api.do(t, http.MethodGet, "/api/users/1/authorizations", nil))
		if len(granted.MachineTypes) != 1 || granted.MachineTypes[0].Name != "drill" {
			t.Fatalf("expected grants unchanged after a failed replace, got %+v", granted.MachineTypes)
		}

		expectStatus(t, api.do(t, http.MethodGet, "/api/machines/0/authorization", nil), http.StatusUnprocessableEntity)
	})
}

func TestInterventionHandlers(t *testing.T) {
	t.Parallel()
	api := newAPI(t)

	rec := api.do(t, http.MethodPost, "/api/interventions", map[string]any{"maintenance_id": 0, "machine_id": 0, "user_id": 0})
	expectStatus(t, rec, http.StatusCreated)
	created := decodeBody[interventionResponse](t, rec).Intervention
	if created.Timestamp != testfixtures.ReferenceTime().UTC().Format(time.RFC3339Nano) {
		t.Fatalf("expected timestamp to default to now, got %q", created.Timestamp)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/interventions", map[string]any{"maintenance_id": 0, "machine_id": 9, "user_id": 0}), http.StatusNotFound)

	forDrill := decodeBody[listInterventionsResponse](t, api.do(t, http.MethodGet, "/api/machines/0/interventions", nil))
	if len(forDrill.Interventions) != 1 {
		t.Fatalf("expected one intervention on the drill, got %+v", forDrill.Interventions)
	}
	forLaser := decodeBody[listInterventionsResponse](t, api.do(t, http.MethodGet, "/api/interventions?machine_id=1", nil))
	if len(forLaser.Interventions) != 0 {
		t.Fatalf("expected no interventions on the laser, got %+v", forLaser.Interventions)
	}
	expectStatus(t, api.do(t, http.MethodGet, "/api/interventions/0", nil), http.StatusOK)
}

func TestLivenessHandlers(t *testing.T) {
	t.Parallel()

	api := newAPI(t)
	ctx := context.Background()

	if err := api.tracker.OnHeartbeat(ctx, 4); err != nil {
		t.Fatalf("OnHeartbeat returned error: %v", err)
	}
	if err := api.tracker.OnAuthorizationRequest(ctx, 5); err != nil {
		t.Fatalf("OnAuthorizationRequest returned error: %v", err)
	}

	report := decodeBody[livenessResponse](t, api.do(t, http.MethodGet, "/api/liveness", nil))
	if len(report.Machines) != 2 || !report.Machines[0].Alive || !report.Machines[1].Pending {
		t.Fatalf("unexpected report %+v", report)
	}

	api.clock.Advance(5 * time.Minute)
	report = decodeBody[livenessResponse](t, api.do(t, http.MethodGet, "/api/liveness?stale_after=10m", nil))
	if !report.Machines[0].Alive || report.StaleAfterSeconds != 600 {
		t.Fatalf("expected override window to keep machine alive, got %+v", report)
	}
	report = decodeBody[livenessResponse](t, api.do(t, http.MethodGet, "/api/liveness", nil))
	if report.Machines[0].Alive {
		t.Fatalf("expected machine 4 to be stale after 5m")
	}
	expectStatus(t, api.do(t, http.MethodGet, "/api/liveness?stale_after=soon", nil), http.StatusBadRequest)

	pending := decodeBody[pendingResponse](t, api.do(t, http.MethodGet, "/api/liveness/pending", nil))
	if len(pending.MachineIDs) != 1 || pending.MachineIDs[0] != 5 {
		t.Fatalf("expected machine 5 pending, got %v", pending.MachineIDs)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	api := newAPI(t)
	expectStatus(t, api.do(t, http.MethodGet, "/healthz", nil), http.StatusOK)

	rec := api.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "fablab_http_requests_total") {
		t.Fatalf("expected HTTP metrics to be exported")
	}

	rec = api.do(t, http.MethodGet, "/api/nowhere", nil)
	expectStatus(t, rec, http.StatusNotFound)
	if body := decodeBody[errorResponse](t, rec); body.Message == "" {
		t.Fatalf("expected JSON body for unknown route")
	}
	expectStatus(t, api.do(t, http.MethodPut, "/api/roles", nil), http.StatusMethodNotAllowed)

	down := NewRouter(RouterConfig{
		Liveness: NewLivenessHandler(liveness.NewTracker(nil, nil, nil), pingStub{err: errors.New("closed")}, time.Minute, nil),
	})
	recorder := httptest.NewRecorder()
	down.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	expectStatus(t, recorder, http.StatusServiceUnavailable)
}
