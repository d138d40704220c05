package database

import "github.com/koustreak/sqlpoll/internal/errs"

// ScanRow reads the current row of rows into a slice holding the Go-native
// representation of each of its n columns.
func ScanRow(rows Rows, n int) ([]any, error) {
	// Allocate scan targets as *any so the driver can write any type.
	dest := make([]any, n)
	destPtrs := make([]any, n)
	for i := range dest {
		destPtrs[i] = &dest[i]
	}

	if err := rows.Scan(destPtrs...); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
	}
	return dest, nil
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
