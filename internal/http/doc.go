// Package http exposes the fablab services as a JSON API.
//
// The router mounts the following endpoints under /api:
//   - /roles, /machine-types, /maintenances: catalog CRUD. PATCH applies only
//     the fields present in the body; updating an absent id answers 204 and
//     changes nothing.
//   - /users: CRUD plus GET /users?name=&surname= and GET /users?card_uuid=
//     lookups, /users/{id}/role, /users/{id}/authorizations (GET resolves the
//     granted machine types, PUT {"type_ids":[...]} replaces them),
//     /users/{id}/sessions and /users/{id}/total-time.
//   - /machines: CRUD, /machines/{id}/maintenances (PUT and DELETE on
//     /machines/{id}/maintenances/{maintenanceID} attach and detach),
//     /machines/{id}/interventions, /machines/{id}/in-use and /machines/in-use.
//   - POST /machines/{id}/sessions/start and /end with a body carrying exactly
//     one of "user_id" and "card_uuid", and an optional RFC 3339 "timestamp".
//   - GET /machines/{id}/authorization?user_id= or ?card_uuid=.
//   - /interventions (append-only), /sessions?user_id= or ?card_uuid=.
//   - /liveness and /liveness/pending: machines heard over the message bus.
//
// /healthz pings the store and /metrics serves the Prometheus registry.
//
// Errors are rendered as {"error_code","message","field","errors"} where
// error_code is application.ErrorKind: duplicate_id and conflict map to 409,
// invalid_id to 404, invalid_query and validation to 422, unavailable to 503.
// Malformed paths and bodies answer 400.
//
// Request/response DTOs live alongside their respective handlers.
package http
