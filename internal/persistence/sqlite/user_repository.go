package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/fablab-backend/internal/persistence"
)

const userColumns = `user_id, name, surname, role_id, card_uuid`

func scanUser(row interface{ Scan(...any) error }) (persistence.User, error) {
	var (
		user   persistence.User
		roleID sql.NullInt64
		card   sql.NullString
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Surname, &roleID, &card); err != nil {
		return persistence.User{}, err
	}
	user.RoleID = intPtr(roleID)
	user.CardUUID = stringPtr(card)
	return user, nil
}

func loadAuthorizations(ctx context.Context, q DBTX, userID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT type_id FROM user_authorizations WHERE user_id = ? ORDER BY type_id`, userID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func insertAuthorizations(ctx context.Context, q DBTX, userID int64, typeIDs []int64) error {
	for _, typeID := range typeIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_authorizations (user_id, type_id) VALUES (?, ?)`,
			userID, typeID); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser inserts the user and its authorization grants atomically.
func (s *Store) CreateUser(ctx context.Context, user persistence.User) (persistence.User, error) {
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		id, err := insertRow(ctx, q, persistence.KindUser, user.ID,
			[]string{"name", "surname", "role_id", "card_uuid"},
			[]any{user.Name, user.Surname, nullableInt(user.RoleID), nullableString(user.CardUUID)},
		)
		if err != nil {
			return err
		}
		if err := insertAuthorizations(ctx, q, id, user.AuthorizationIDs); err != nil {
			return err
		}
		user.ID = id
		user.AuthorizationIDs, err = loadAuthorizations(ctx, q, id)
		return err
	})
	if err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

// getUserWhere reads the user row and its grants in one transaction so a
// concurrent ReplaceUserAuthorizations cannot interleave between them.
func (s *Store) getUserWhere(ctx context.Context, where string, args ...any) (persistence.User, error) {
	var user persistence.User
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		var err error
		user, err = scanUser(q.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY user_id LIMIT 1`, args...))
		if err != nil {
			return err
		}
		user.AuthorizationIDs, err = loadAuthorizations(ctx, q, user.ID)
		return err
	})
	if err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (persistence.User, error) {
	return s.getUserWhere(ctx, `user_id = ?`, id)
}

// GetUserByCard looks a user up by the UUID of their access card.
func (s *Store) GetUserByCard(ctx context.Context, cardUUID string) (persistence.User, error) {
	return s.getUserWhere(ctx, `card_uuid = ?`, cardUUID)
}

// FindUserByName returns the lowest-id user with an exact name and surname match.
func (s *Store) FindUserByName(ctx context.Context, name, surname string) (persistence.User, error) {
	return s.getUserWhere(ctx, `name = ? AND surname = ?`, name, surname)
}

func (s *Store) ListUsers(ctx context.Context) ([]persistence.User, error) {
	var users []persistence.User
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		rows, err := q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY user_id`)
		if err != nil {
			return err
		}

		users = make([]persistence.User, 0)
		index := make(map[int64]int)
		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				rows.Close()
				return err
			}
			user.AuthorizationIDs = make([]int64, 0)
			index[user.ID] = len(users)
			users = append(users, user)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		grants, err := q.QueryContext(ctx,
			`SELECT user_id, type_id FROM user_authorizations ORDER BY user_id, type_id`)
		if err != nil {
			return err
		}
		defer grants.Close()

		for grants.Next() {
			var userID, typeID int64
			if err := grants.Scan(&userID, &typeID); err != nil {
				return err
			}
			if i, ok := index[userID]; ok {
				users[i].AuthorizationIDs = append(users[i].AuthorizationIDs, typeID)
			}
		}
		return grants.Err()
	})
	return users, err
}

func (s *Store) UpdateUserRole(ctx context.Context, id int64, roleID int64) error {
	return s.exec(ctx, `UPDATE users SET role_id = ? WHERE user_id = ?`, roleID, id)
}

func (s *Store) UpdateUserName(ctx context.Context, id int64, name, surname string) error {
	return s.exec(ctx, `UPDATE users SET name = ?, surname = ? WHERE user_id = ?`, name, surname, id)
}

// UpdateUserCard binds or, with a nil cardUUID, unbinds the user's card.
func (s *Store) UpdateUserCard(ctx context.Context, id int64, cardUUID *string) error {
	return s.exec(ctx, `UPDATE users SET card_uuid = ? WHERE user_id = ?`, nullableString(cardUUID), id)
}

// ReplaceUserAuthorizations swaps the user's grant set for typeIDs. Nothing
// changes when the user does not exist.
func (s *Store) ReplaceUserAuthorizations(ctx context.Context, id int64, typeIDs []int64) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		var exists bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = ?)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM user_authorizations WHERE user_id = ?`, id); err != nil {
			return err
		}
		return insertAuthorizations(ctx, q, id, typeIDs)
	})
}

// DeleteUser removes the user and its own grant rows. Sessions and
// interventions naming the user are kept.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM user_authorizations WHERE user_id = ?`, id); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, id)
		return err
	})
}
