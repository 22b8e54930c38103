// Package style parses the osm2pgsql-style tag projection file: a
// line-oriented, whitespace-separated grammar of
// "osm_type_mask tag_key column_type flag_list" rules that decides which
// tags survive into the output tables, under what column, and with which
// classification flags.
package style

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Flag is one classification bit a style rule can carry.
type Flag int

const (
	Polygon Flag = iota
	Linear
	NoCache
	Delete
	PHStore
)

func (f Flag) String() string {
	switch f {
	case Polygon:
		return "polygon"
	case Linear:
		return "linear"
	case NoCache:
		return "nocache"
	case Delete:
		return "delete"
	case PHStore:
		return "phstore"
	default:
		return "unknown"
	}
}

func parseFlag(tok string) (Flag, bool) {
	switch tok {
	case "polygon":
		return Polygon, true
	case "linear":
		return Linear, true
	case "nocache":
		return NoCache, true
	case "delete":
		return Delete, true
	case "phstore":
		return PHStore, true
	default:
		return 0, false
	}
}

// OSMType is the primitive kind a rule applies to.
type OSMType int

const (
	Node OSMType = 1 << iota
	Way
)

// TagInfo is one recognised tag entry in a style.
type TagInfo struct {
	Name       string
	ColumnType string
	Flags      map[Flag]bool
}

func (t TagInfo) Has(f Flag) bool { return t.Flags[f] }

// ExportList maps an OSM primitive type to its ordered, style-declared tag
// rules. Rule order is preserved and becomes output column order.
type ExportList struct {
	Node []TagInfo
	Way  []TagInfo

	// EnableWayArea is false when a "way_area" rule carries the delete
	// flag, per §4.A.
	EnableWayArea bool
}

// Column widths mirror the original C style-file scanf field limits
// (osm_type_mask ≤ 23, tag_key ≤ 63, column_type ≤ 23, flag_list ≤ 127);
// violations are not fatal here (Go has no fixed-width scanf buffers to
// overrun) but are rejected to keep behaviour aligned with the source.
const (
	maxOsmTypeLen  = 23
	maxTagKeyLen   = 63
	maxColTypeLen  = 23
	maxFlagListLen = 127
)

// Load parses a style file per §4.A. It returns a fatal error (the caller
// should terminate the import) on: fewer than 3 fields on a non-blank line,
// a wildcard outside a DELETE-flagged entry, or zero valid lines parsed.
func Load(r io.Reader) (*ExportList, error) {
	scanner := bufio.NewScanner(r)
	list := &ExportList{EnableWayArea: true}
	lineNo := 0
	parsed := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("style line %d: expected at least 3 fields, got %d", lineNo, len(fields))
		}

		osmTypeMask := fields[0]
		tagKey := fields[1]
		colType := fields[2]
		flagList := ""
		if len(fields) >= 4 {
			flagList = fields[3]
		}

		if len(osmTypeMask) > maxOsmTypeLen || len(tagKey) > maxTagKeyLen ||
			len(colType) > maxColTypeLen || len(flagList) > maxFlagListLen {
			return nil, fmt.Errorf("style line %d: field exceeds maximum width", lineNo)
		}

		flags := map[Flag]bool{}
		for _, tok := range strings.Split(flagList, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			f, ok := parseFlag(tok)
			if !ok {
				// unknown flags are warned and ignored, not fatal.
				continue
			}
			flags[f] = true
		}

		isWildcard := strings.ContainsAny(tagKey, "?*")
		if isWildcard && !flags[Delete] {
			return nil, fmt.Errorf("style line %d: wildcard tag %q only allowed with the delete flag", lineNo, tagKey)
		}

		info := TagInfo{Name: tagKey, ColumnType: colType, Flags: flags}

		isNode := strings.Contains(osmTypeMask, "node")
		isWay := strings.Contains(osmTypeMask, "way")
		if isNode {
			list.Node = append(list.Node, info)
		}
		if isWay {
			list.Way = append(list.Way, info)
		}
		if !isNode && !isWay {
			continue
		}

		if tagKey == "way_area" && flags[Delete] {
			list.EnableWayArea = false
		}

		parsed++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading style file: %w", err)
	}
	if parsed == 0 {
		return nil, fmt.Errorf("style file contains zero valid rules")
	}
	return list, nil
}

// DirectColumns filters rules down to the ones that become a plain style
// column in an output table's schema (§6: "(osm_id, …style columns…,
// [hstore columns…], [tags], way)") — excluding DELETE rules (which only
// ever strip a tag from the residual hstore, never materialise a column)
// and PHSTORE rules (which materialise as named hstore columns, listed
// separately after the plain columns, not interleaved with them).
func DirectColumns(rules []TagInfo) []TagInfo {
	var out []TagInfo
	for _, r := range rules {
		if r.Has(Delete) || r.Has(PHStore) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Match reports whether any rule in rules applies to one of tags, and
// returns the matched rule list in style order (possibly containing
// duplicates if several rules key to the same tag — callers iterate and
// take the first relevant flag, mirroring the source's linear scan).
func Match(rules []TagInfo, tags map[string]string) []TagInfo {
	if len(tags) == 0 || len(rules) == 0 {
		return nil
	}
	var matched []TagInfo
	for _, rule := range rules {
		if rule.Flags[Delete] {
			continue
		}
		if _, ok := tags[rule.Name]; ok {
			matched = append(matched, rule)
		}
	}
	return matched
}
