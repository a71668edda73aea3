package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/example/fablab-backend/internal/persistence"
)

const sessionColumns = `usage_id, user_id, machine_id, start_ns, end_ns`

func scanSession(row interface{ Scan(...any) error }) (persistence.UsageSession, error) {
	var (
		session persistence.UsageSession
		start   int64
		end     sql.NullInt64
	)
	if err := row.Scan(&session.ID, &session.UserID, &session.MachineID, &start, &end); err != nil {
		return persistence.UsageSession{}, err
	}
	session.Start = fromNanos(start)
	if end.Valid {
		t := fromNanos(end.Int64)
		session.End = &t
	}
	return session, nil
}

// StartSession opens a session. The partial unique index on active sessions
// turns a second open session for the same machine into ErrActiveSession.
func (s *Store) StartSession(ctx context.Context, session persistence.UsageSession) (persistence.UsageSession, error) {
	session.End = nil
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		id, err := insertRow(ctx, q, persistence.KindUsageSession, session.ID,
			[]string{"user_id", "machine_id", "start_ns", "end_ns"},
			[]any{session.UserID, session.MachineID, toNanos(session.Start), nil},
		)
		if err != nil {
			return err
		}
		session.ID = id
		return nil
	})
	if err != nil {
		return persistence.UsageSession{}, err
	}
	session.Start = fromNanos(toNanos(session.Start))
	return session, nil
}

// EndSession stamps the end of the open session with a single conditional
// update; the CHECK constraint rejects an end before the start.
func (s *Store) EndSession(ctx context.Context, machineID, userID int64, end time.Time) (persistence.UsageSession, error) {
	var closed persistence.UsageSession
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		var err error
		closed, err = scanSession(q.QueryRowContext(ctx, `
			UPDATE usage_sessions SET end_ns = ?
			WHERE machine_id = ? AND user_id = ? AND end_ns IS NULL
			RETURNING `+sessionColumns, toNanos(end), machineID, userID))
		return err
	})
	if err != nil {
		return persistence.UsageSession{}, err
	}
	return closed, nil
}

func (s *Store) CountActiveSessions(ctx context.Context, machineID int64) (int, error) {
	var count int
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		return q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM usage_sessions WHERE machine_id = ? AND end_ns IS NULL`, machineID).Scan(&count)
	})
	return count, err
}

// ListSessions returns matching sessions ordered by start time.
func (s *Store) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.UsageSession, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != nil {
		clauses = append(clauses, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.MachineID != nil {
		clauses = append(clauses, "machine_id = ?")
		args = append(args, *filter.MachineID)
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "end_ns IS NULL")
	}
	if filter.ClosedOnly {
		clauses = append(clauses, "end_ns IS NOT NULL")
	}

	query := `SELECT ` + sessionColumns + ` FROM usage_sessions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_ns, usage_id"

	var sessions []persistence.UsageSession
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		sessions = make([]persistence.UsageSession, 0)
		for rows.Next() {
			session, err := scanSession(rows)
			if err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
		return rows.Err()
	})
	return sessions, err
}

// TotalClosedDuration sums end-start over the user's closed sessions.
func (s *Store) TotalClosedDuration(ctx context.Context, userID int64) (time.Duration, error) {
	var total int64
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		return q.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(end_ns - start_ns), 0)
			FROM usage_sessions
			WHERE user_id = ? AND end_ns IS NOT NULL`, userID).Scan(&total)
	})
	return time.Duration(total), err
}
