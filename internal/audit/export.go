package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// TableExporter provides a tenant's rows of the exported tables.
type TableExporter interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName, tenantID string) ([]map[string]any, []string, error)
}

// Exporter builds XLSX workbooks with one sheet per table.
type Exporter struct {
	tables TableExporter
	logger zerolog.Logger
}

func NewExporter(tables TableExporter, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		tables: tables,
		logger: logger.With().Str("component", "audit_export").Logger(),
	}
}

// FileName returns the download name of a tenant's export generated at t.
func FileName(tenantID string, t time.Time) string {
	return fmt.Sprintf("audit_%s_%s.xlsx", tenantID, t.UTC().Format("20060102_150405"))
}

// Export writes the tenant's workbook to w.
func (e *Exporter) Export(ctx context.Context, tenantID string, w io.Writer) error {
	names, err := e.tables.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, table := range names {
		rows, columns, err := e.tables.GetTableData(ctx, table, tenantID)
		if err != nil {
			return fmt.Errorf("read table %s: %w", table, err)
		}

		sheet := sheetName(table)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}

		if err := writeRow(f, sheet, 1, toAny(columns)); err != nil {
			return err
		}
		if len(columns) > 0 {
			start, _ := excelize.CoordinatesToCellName(1, 1)
			end, _ := excelize.CoordinatesToCellName(len(columns), 1)
			_ = f.SetCellStyle(sheet, start, end, bold)
		}

		for r, row := range rows {
			values := make([]any, len(columns))
			for c, col := range columns {
				values[c] = cellValue(row[col])
			}
			if err := writeRow(f, sheet, r+2, values); err != nil {
				return err
			}
		}

		e.logger.Debug().Str("table", table).Int("rows", len(rows)).Msg("Exported table")
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// sheetName truncates to the 31 character Excel limit.
func sheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	return name
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func cellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return val
	}
}
