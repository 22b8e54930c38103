package emitter

import (
	"strconv"
	"strings"

	"github.com/wegman-software/osm2pgsql-go/internal/style"
)

// rowValues projects tags onto table's declared style columns (in their
// style-file order, §4.A; columns is already style.DirectColumns-filtered,
// so it has exactly one entry per plain style column the table declares),
// then the table's declared named hstore columns (PHSTORE-flagged rules,
// tbl.HstoreColumns() — each column name is itself the rule's tag key,
// since the grammar only allows wildcard tag keys on DELETE rules), then,
// if the table carries a residual "tags" hstore column, the leftover tags
// not consumed by any explicit column or named hstore column.
func rowValues(tbl Table, columns []style.TagInfo, tags map[string]string) []*string {
	hstoreCols := tbl.HstoreColumns()
	values := make([]*string, 0, len(columns)+len(hstoreCols)+1)
	consumed := make(map[string]bool, len(columns)+len(hstoreCols))

	for _, col := range columns {
		if v, ok := tags[col.Name]; ok {
			consumed[col.Name] = true
			vv := v
			values = append(values, &vv)
		} else {
			values = append(values, nil)
		}
	}

	for _, h := range hstoreCols {
		if v, ok := tags[h]; ok {
			consumed[h] = true
			lit := hstoreQuote(h) + "=>" + hstoreQuote(v)
			values = append(values, &lit)
		} else {
			values = append(values, nil)
		}
	}

	if tbl.HasTagsColumn() {
		residual := hstoreLiteral(tags, consumed)
		values = append(values, residual)
	}

	return values
}

// hstoreLiteral renders the tags not already consumed by an explicit
// column as a PostgreSQL hstore text literal ("k"=>"v", ...), or nil when
// nothing remains.
func hstoreLiteral(tags map[string]string, consumed map[string]bool) *string {
	var pairs []string
	for k, v := range tags {
		if consumed[k] {
			continue
		}
		pairs = append(pairs, hstoreQuote(k)+"=>"+hstoreQuote(v))
	}
	if len(pairs) == 0 {
		return nil
	}
	s := strings.Join(pairs, ",")
	return &s
}

func hstoreQuote(s string) string {
	return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
}

// wayAreaValue formats a computed area for injection into the "way_area"
// style column, when present and enabled (§4.E step 6/4).
func wayAreaValue(area float64) *string {
	s := strconv.FormatFloat(area, 'f', -1, 64)
	return &s
}

func hasWayAreaColumn(columns []style.TagInfo) bool {
	for _, c := range columns {
		if c.Name == "way_area" {
			return true
		}
	}
	return false
}

func setColumnValue(columns []style.TagInfo, values []*string, name string, v *string) {
	for i, c := range columns {
		if c.Name == name {
			values[i] = v
			return
		}
	}
}
