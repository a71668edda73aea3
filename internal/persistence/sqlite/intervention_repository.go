package sqlite

import (
	"context"
	"strings"

	"github.com/example/fablab-backend/internal/persistence"
)

const interventionColumns = `intervention_id, maintenance_id, machine_id, user_id, timestamp_ns`

func scanIntervention(row interface{ Scan(...any) error }) (persistence.Intervention, error) {
	var (
		intervention persistence.Intervention
		ts           int64
	)
	if err := row.Scan(&intervention.ID, &intervention.MaintenanceID, &intervention.MachineID,
		&intervention.UserID, &ts); err != nil {
		return persistence.Intervention{}, err
	}
	intervention.Timestamp = fromNanos(ts)
	return intervention, nil
}

func (s *Store) CreateIntervention(ctx context.Context, intervention persistence.Intervention) (persistence.Intervention, error) {
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		id, err := insertRow(ctx, q, persistence.KindIntervention, intervention.ID,
			[]string{"maintenance_id", "machine_id", "user_id", "timestamp_ns"},
			[]any{intervention.MaintenanceID, intervention.MachineID, intervention.UserID, toNanos(intervention.Timestamp)},
		)
		if err != nil {
			return err
		}
		intervention.ID = id
		return nil
	})
	if err != nil {
		return persistence.Intervention{}, err
	}
	intervention.Timestamp = fromNanos(toNanos(intervention.Timestamp))
	return intervention, nil
}

func (s *Store) GetIntervention(ctx context.Context, id int64) (persistence.Intervention, error) {
	var intervention persistence.Intervention
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		var err error
		intervention, err = scanIntervention(q.QueryRowContext(ctx,
			`SELECT `+interventionColumns+` FROM interventions WHERE intervention_id = ?`, id))
		return err
	})
	if err != nil {
		return persistence.Intervention{}, err
	}
	return intervention, nil
}

// ListInterventions returns interventions in chronological order.
func (s *Store) ListInterventions(ctx context.Context, filter persistence.InterventionFilter) ([]persistence.Intervention, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.MachineID != nil {
		clauses = append(clauses, "machine_id = ?")
		args = append(args, *filter.MachineID)
	}
	query := `SELECT ` + interventionColumns + ` FROM interventions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp_ns, intervention_id"

	var interventions []persistence.Intervention
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		interventions = make([]persistence.Intervention, 0)
		for rows.Next() {
			intervention, err := scanIntervention(rows)
			if err != nil {
				return err
			}
			interventions = append(interventions, intervention)
		}
		return rows.Err()
	})
	return interventions, err
}
