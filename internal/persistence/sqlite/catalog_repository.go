package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/fablab-backend/internal/persistence"
)

// --- RoleRepository ---

// CreateRole inserts a role. role.ID may be persistence.AutoID.
func (s *Store) CreateRole(ctx context.Context, role persistence.Role) (persistence.Role, error) {
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		id, err := insertRow(ctx, q, persistence.KindRole, role.ID,
			[]string{"role_name", "authorize_all"},
			[]any{role.Name, role.AuthorizeAll},
		)
		if err != nil {
			return err
		}
		role.ID = id
		return nil
	})
	if err != nil {
		return persistence.Role{}, err
	}
	return role, nil
}

// GetRole returns the role with id or persistence.ErrNotFound.
func (s *Store) GetRole(ctx context.Context, id int64) (persistence.Role, error) {
	var role persistence.Role
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		row := q.QueryRowContext(ctx,
			`SELECT role_id, role_name, authorize_all FROM roles WHERE role_id = ?`, id)
		return row.Scan(&role.ID, &role.Name, &role.AuthorizeAll)
	})
	if err != nil {
		return persistence.Role{}, err
	}
	return role, nil
}

// ListRoles returns every role ordered by id.
func (s *Store) ListRoles(ctx context.Context) ([]persistence.Role, error) {
	var roles []persistence.Role
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		rows, err := q.QueryContext(ctx,
			`SELECT role_id, role_name, authorize_all FROM roles ORDER BY role_id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		roles = make([]persistence.Role, 0)
		for rows.Next() {
			var role persistence.Role
			if err := rows.Scan(&role.ID, &role.Name, &role.AuthorizeAll); err != nil {
				return err
			}
			roles = append(roles, role)
		}
		return rows.Err()
	})
	return roles, err
}

func (s *Store) UpdateRoleName(ctx context.Context, id int64, name string) error {
	return s.exec(ctx, `UPDATE roles SET role_name = ? WHERE role_id = ?`, name, id)
}

func (s *Store) UpdateRoleAuthorizeAll(ctx context.Context, id int64, authorizeAll bool) error {
	return s.exec(ctx, `UPDATE roles SET authorize_all = ? WHERE role_id = ?`, authorizeAll, id)
}

// DeleteRole removes the role. Users holding it keep a dangling role id.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM roles WHERE role_id = ?`, id)
}

// --- MachineTypeRepository ---

func (s *Store) CreateMachineType(ctx context.Context, machineType persistence.MachineType) (persistence.MachineType, error) {
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		id, err := insertRow(ctx, q, persistence.KindMachineType, machineType.ID,
			[]string{"type_name"},
			[]any{machineType.Name},
		)
		if err != nil {
			return err
		}
		machineType.ID = id
		return nil
	})
	if err != nil {
		return persistence.MachineType{}, err
	}
	return machineType, nil
}

func (s *Store) GetMachineType(ctx context.Context, id int64) (persistence.MachineType, error) {
	var machineType persistence.MachineType
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		row := q.QueryRowContext(ctx,
			`SELECT type_id, type_name FROM machine_types WHERE type_id = ?`, id)
		return row.Scan(&machineType.ID, &machineType.Name)
	})
	if err != nil {
		return persistence.MachineType{}, err
	}
	return machineType, nil
}

func (s *Store) ListMachineTypes(ctx context.Context) ([]persistence.MachineType, error) {
	var types []persistence.MachineType
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		rows, err := q.QueryContext(ctx, `SELECT type_id, type_name FROM machine_types ORDER BY type_id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		types = make([]persistence.MachineType, 0)
		for rows.Next() {
			var machineType persistence.MachineType
			if err := rows.Scan(&machineType.ID, &machineType.Name); err != nil {
				return err
			}
			types = append(types, machineType)
		}
		return rows.Err()
	})
	return types, err
}

func (s *Store) UpdateMachineTypeName(ctx context.Context, id int64, name string) error {
	return s.exec(ctx, `UPDATE machine_types SET type_name = ? WHERE type_id = ?`, name, id)
}

func (s *Store) DeleteMachineType(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM machine_types WHERE type_id = ?`, id)
}

// --- MaintenanceRepository ---

func (s *Store) CreateMaintenance(ctx context.Context, maintenance persistence.Maintenance) (persistence.Maintenance, error) {
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		id, err := insertRow(ctx, q, persistence.KindMaintenance, maintenance.ID,
			[]string{"hours_between", "description"},
			[]any{maintenance.HoursBetween, nullableString(maintenance.Description)},
		)
		if err != nil {
			return err
		}
		maintenance.ID = id
		return nil
	})
	if err != nil {
		return persistence.Maintenance{}, err
	}
	return maintenance, nil
}

func (s *Store) GetMaintenance(ctx context.Context, id int64) (persistence.Maintenance, error) {
	var maintenance persistence.Maintenance
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		row := q.QueryRowContext(ctx,
			`SELECT maintenance_id, hours_between, description FROM maintenances WHERE maintenance_id = ?`, id)
		var description sql.NullString
		if err := row.Scan(&maintenance.ID, &maintenance.HoursBetween, &description); err != nil {
			return err
		}
		maintenance.Description = stringPtr(description)
		return nil
	})
	if err != nil {
		return persistence.Maintenance{}, err
	}
	return maintenance, nil
}

func (s *Store) ListMaintenances(ctx context.Context) ([]persistence.Maintenance, error) {
	var maintenances []persistence.Maintenance
	err := s.do(ctx, func(ctx context.Context, q DBTX) error {
		rows, err := q.QueryContext(ctx,
			`SELECT maintenance_id, hours_between, description FROM maintenances ORDER BY maintenance_id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		maintenances = make([]persistence.Maintenance, 0)
		for rows.Next() {
			var maintenance persistence.Maintenance
			var description sql.NullString
			if err := rows.Scan(&maintenance.ID, &maintenance.HoursBetween, &description); err != nil {
				return err
			}
			maintenance.Description = stringPtr(description)
			maintenances = append(maintenances, maintenance)
		}
		return rows.Err()
	})
	return maintenances, err
}

func (s *Store) UpdateMaintenanceDescription(ctx context.Context, id int64, description *string) error {
	return s.exec(ctx, `UPDATE maintenances SET description = ? WHERE maintenance_id = ?`,
		nullableString(description), id)
}

func (s *Store) UpdateMaintenanceHoursBetween(ctx context.Context, id int64, hours float64) error {
	return s.exec(ctx, `UPDATE maintenances SET hours_between = ? WHERE maintenance_id = ?`, hours, id)
}

// DeleteMaintenance removes the definition. Machines and interventions that
// reference it are left untouched.
func (s *Store) DeleteMaintenance(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM maintenances WHERE maintenance_id = ?`, id)
}
