package pipeline

import "github.com/wegman-software/osm2pgsql-go/internal/pbf"

// LoadStats holds row counts for one output table after a run.
type LoadStats struct {
	Table      string
	RowsLoaded int64
}

// ImportStats holds combined statistics for one full import run.
type ImportStats struct {
	Extract    pbf.Stats
	PointsLoad LoadStats
	LinesLoad  LoadStats
	PolysLoad  LoadStats
	RoadsLoad  LoadStats
}
