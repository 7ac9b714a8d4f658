package storage

import (
	"fmt"
	"strings"
)

// CreateUser inserts an identity row and returns its assigned ID.
func (d *DB) CreateUser(username string) (int64, error) {
	if strings.TrimSpace(username) == "" {
		return 0, fmt.Errorf("username cannot be empty")
	}
	result, err := d.db.Exec("INSERT INTO users (username) VALUES (?)", username)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return result.LastInsertId()
}

// UsernameFor resolves display names for the given user IDs in a single
// query. Unknown IDs are absent from the result map; callers degrade to a
// placeholder rather than failing.
func (d *DB) UsernameFor(ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.Query("SELECT id, username FROM users WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[int64]string, len(ids))
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}
