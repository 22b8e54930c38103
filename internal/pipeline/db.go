package pipeline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wegman-software/osm2pgsql-go/internal/config"
)

// DB owns the shared connection pool every import mode (style-driven,
// flex) acquires dedicated connections from.
type DB struct {
	cfg  *config.Config
	pool *pgxpool.Pool
}

// NewDB opens a pool sized for at least one dedicated connection per
// output table plus headroom for setup/index DDL.
func NewDB(cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	minConns := cfg.Workers + 4
	if minConns < 8 {
		minConns = 8
	}
	poolConfig.MaxConns = int32(minConns)

	if cfg.Hstore {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			var oid uint32
			if err := conn.QueryRow(ctx, "SELECT oid FROM pg_type WHERE typname = 'hstore'").Scan(&oid); err != nil {
				return fmt.Errorf("looking up hstore OID: %w", err)
			}
			conn.TypeMap().RegisterType(&pgtype.Type{
				Name:  "hstore",
				OID:   oid,
				Codec: pgtype.HstoreCodec{},
			})
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgresql: %w", err)
	}
	return &DB{cfg: cfg, pool: pool}, nil
}

// Pool returns the underlying connection pool, shared with the middle
// store and (in flex mode) internal/flex's own writers.
func (d *DB) Pool() *pgxpool.Pool { return d.pool }

// Close closes every pooled connection.
func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// EnsureSchema creates the PostGIS/hstore extensions and target schema.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("creating postgis extension: %w", err)
	}
	if d.cfg.Hstore {
		if _, err := d.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS hstore"); err != nil {
			return fmt.Errorf("creating hstore extension: %w", err)
		}
	}
	if d.cfg.DBSchema != "" && d.cfg.DBSchema != "public" {
		if _, err := d.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", d.cfg.DBSchema)); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
