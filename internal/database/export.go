package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
)

// ExportTableNames are the tenant-scoped tables included in audit reports.
var ExportTableNames = []string{
	"bookings",
	"escalations",
	"audit_logs",
}

// GetTableNames returns list of table names to export.
func (db *DB) GetTableNames(_ context.Context) ([]string, error) {
	return ExportTableNames, nil
}

// GetTableData returns a tenant's rows of a table as maps, keyed by column.
func (db *DB) GetTableData(ctx context.Context, tableName, tenantID string) (data []map[string]any, columns []string, err error) {
	// Table names cannot be bound as parameters, so only known names are accepted.
	if !slices.Contains(ExportTableNames, tableName) {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	var rows *sql.Rows
	rows, err = db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var (
			cid         int
			name, typ   string
			notNull, pk int
			dfltValue   sql.NullString
		)
		if err = rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return nil, nil, err
		}
		columns = append(columns, name)
	}
	rows.Close()

	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("table %s has no columns", tableName)
	}

	dataRows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE tenant_id = ? ORDER BY created_at", tableName), tenantID)
	if err != nil {
		return nil, nil, err
	}
	defer dataRows.Close()

	for dataRows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err = dataRows.Scan(valuePtrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		data = append(data, row)
	}

	return data, columns, dataRows.Err()
}
