// Package postgres provides a PostgreSQL implementation of storage
// interfaces. This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every aide table. It is defined in
// the postgres package (not the _test package) so it has access to the
// unexported db field, and exported so the postgres_test package can call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE turns, memory_entries, tasks, profiles")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
