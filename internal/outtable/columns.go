package outtable

import "github.com/wegman-software/osm2pgsql-go/internal/style"

// ColumnsFromStyle projects a style.ExportList rule sequence (already in
// rule order, §4.A "becomes the column order of the output table") onto
// this table's SQL column list: DELETE-flagged rules consume no column (a
// DELETE rule only ever strips a tag from the residual hstore, §4.A), and
// PHSTORE-flagged rules become named hstore columns instead of plain
// style columns, collected separately so the caller can pass them as
// hstoreCols to New.
func ColumnsFromStyle(rules []style.TagInfo) (columns []Column, hstoreCols []string) {
	for _, r := range rules {
		if r.Has(style.Delete) {
			continue
		}
		if r.Has(style.PHStore) {
			hstoreCols = append(hstoreCols, r.Name)
			continue
		}
		columns = append(columns, Column{Name: r.Name, SQLType: r.ColumnType})
	}
	return columns, hstoreCols
}
