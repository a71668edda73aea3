package sqlite

import (
	"context"

	"github.com/example/fablab-backend/internal/persistence"
)

const machineColumns = `machine_id, machine_name, type_id, machine_hours`

func loadMachineMaintenances(ctx context.Context, q DBTX, machineID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT maintenance_id FROM machine_maintenances WHERE machine_id = ? ORDER BY maintenance_id`, machineID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// CreateMachine inserts the machine together with its maintenance set.
func (s *Store) CreateMachine(ctx context.Context, machine persistence.Machine) (persistence.Machine, error) {
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		id, err := insertRow(ctx, q, persistence.KindMachine, machine.ID,
			[]string{"machine_name", "type_id", "machine_hours"},
			[]any{machine.Name, machine.TypeID, machine.Hours},
		)
		if err != nil {
			return err
		}
		for _, maintenanceID := range machine.MaintenanceIDs {
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO machine_maintenances (machine_id, maintenance_id) VALUES (?, ?)`,
				id, maintenanceID); err != nil {
				return err
			}
		}
		machine.ID = id
		machine.MaintenanceIDs, err = loadMachineMaintenances(ctx, q, id)
		return err
	})
	if err != nil {
		return persistence.Machine{}, err
	}
	return machine, nil
}

// GetMachine reads the machine and its maintenance set in one transaction.
func (s *Store) GetMachine(ctx context.Context, id int64) (persistence.Machine, error) {
	var machine persistence.Machine
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		row := q.QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE machine_id = ?`, id)
		if err := row.Scan(&machine.ID, &machine.Name, &machine.TypeID, &machine.Hours); err != nil {
			return err
		}
		var err error
		machine.MaintenanceIDs, err = loadMachineMaintenances(ctx, q, id)
		return err
	})
	if err != nil {
		return persistence.Machine{}, err
	}
	return machine, nil
}

func (s *Store) ListMachines(ctx context.Context) ([]persistence.Machine, error) {
	var machines []persistence.Machine
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		rows, err := q.QueryContext(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY machine_id`)
		if err != nil {
			return err
		}

		machines = make([]persistence.Machine, 0)
		index := make(map[int64]int)
		for rows.Next() {
			var machine persistence.Machine
			if err := rows.Scan(&machine.ID, &machine.Name, &machine.TypeID, &machine.Hours); err != nil {
				rows.Close()
				return err
			}
			machine.MaintenanceIDs = make([]int64, 0)
			index[machine.ID] = len(machines)
			machines = append(machines, machine)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		links, err := q.QueryContext(ctx,
			`SELECT machine_id, maintenance_id FROM machine_maintenances ORDER BY machine_id, maintenance_id`)
		if err != nil {
			return err
		}
		defer links.Close()

		for links.Next() {
			var machineID, maintenanceID int64
			if err := links.Scan(&machineID, &maintenanceID); err != nil {
				return err
			}
			if i, ok := index[machineID]; ok {
				machines[i].MaintenanceIDs = append(machines[i].MaintenanceIDs, maintenanceID)
			}
		}
		return links.Err()
	})
	return machines, err
}

func (s *Store) UpdateMachineName(ctx context.Context, id int64, name string) error {
	return s.exec(ctx, `UPDATE machines SET machine_name = ? WHERE machine_id = ?`, name, id)
}

func (s *Store) UpdateMachineType(ctx context.Context, id int64, typeID int64) error {
	return s.exec(ctx, `UPDATE machines SET type_id = ? WHERE machine_id = ?`, typeID, id)
}

func (s *Store) UpdateMachineHours(ctx context.Context, id int64, hours float64) error {
	return s.exec(ctx, `UPDATE machines SET machine_hours = ? WHERE machine_id = ?`, hours, id)
}

// AddMachineMaintenance attaches a maintenance definition; attaching it twice
// is a no-op, as is attaching to a missing machine.
func (s *Store) AddMachineMaintenance(ctx context.Context, id int64, maintenanceID int64) error {
	return s.exec(ctx, `
		INSERT OR IGNORE INTO machine_maintenances (machine_id, maintenance_id)
		SELECT machine_id, ? FROM machines WHERE machine_id = ?`, maintenanceID, id)
}

func (s *Store) RemoveMachineMaintenance(ctx context.Context, id int64, maintenanceID int64) error {
	return s.exec(ctx,
		`DELETE FROM machine_maintenances WHERE machine_id = ? AND maintenance_id = ?`, id, maintenanceID)
}

// DeleteMachine removes the machine and its maintenance links. Sessions and
// interventions naming the machine are kept.
func (s *Store) DeleteMachine(ctx context.Context, id int64) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM machine_maintenances WHERE machine_id = ?`, id); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `DELETE FROM machines WHERE machine_id = ?`, id)
		return err
	})
}
