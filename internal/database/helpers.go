package database

import "database/sql"

// requireRow reports zeroErr when a conditional UPDATE matched no row.
// The task table uses status guards in WHERE clauses, so zero rows
// means the task lost a status race rather than a database fault.
func requireRow(result sql.Result, zeroErr error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return zeroErr
	}
	return nil
}
