package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fleet "greenhouse-cloud/internal/fleet/domain"
)

const (
	defaultGreenhousesTable = "greenhouses"
	defaultZonesTable       = "zones"
)

// Schema creates the default greenhouse and zone tables.
const Schema = `
CREATE TABLE IF NOT EXISTS greenhouses (
	id         BIGINT      PRIMARY KEY,
	name       TEXT        NOT NULL,
	location   TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS zones (
	id            BIGINT PRIMARY KEY,
	greenhouse_id BIGINT NOT NULL REFERENCES greenhouses(id) ON DELETE CASCADE,
	name          TEXT   NOT NULL,
	crop_type     TEXT   NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS zones_greenhouse_idx ON zones (greenhouse_id)`

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GreenhouseRepository is a Postgres implementation for greenhouses.
type GreenhouseRepository struct {
	db         DBTX
	table      string
	zonesTable string
}

// GreenhouseOption configures the repository.
type GreenhouseOption func(*GreenhouseRepository)

// WithGreenhouseTable overrides the default greenhouse table name.
func WithGreenhouseTable(table string) GreenhouseOption {
	return func(repo *GreenhouseRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithZonesTable overrides the default zone table name.
func WithZonesTable(table string) GreenhouseOption {
	return func(repo *GreenhouseRepository) {
		if table != "" {
			repo.zonesTable = table
		}
	}
}

// NewGreenhouseRepository constructs a repository.
func NewGreenhouseRepository(db DBTX, opts ...GreenhouseOption) *GreenhouseRepository {
	repo := &GreenhouseRepository{db: db, table: defaultGreenhousesTable, zonesTable: defaultZonesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// EnsureSchema creates the default tables when missing.
func (r *GreenhouseRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("greenhouse repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

// List loads every greenhouse with its zones, ordered by id.
func (r *GreenhouseRepository) List(ctx context.Context) ([]fleet.Greenhouse, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("greenhouse repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, name, location, created_at, updated_at
FROM %s
ORDER BY id`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var greenhouses []fleet.Greenhouse
	index := make(map[int64]int)
	for rows.Next() {
		var g fleet.Greenhouse
		if err := rows.Scan(&g.ID, &g.Name, &g.Location, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.CreatedAt = g.CreatedAt.UTC()
		g.UpdatedAt = g.UpdatedAt.UTC()
		g.Zones = []fleet.Zone{}
		index[g.ID] = len(greenhouses)
		greenhouses = append(greenhouses, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(greenhouses) == 0 {
		return []fleet.Greenhouse{}, nil
	}

	zones, err := r.zones(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, z := range zones {
		if i, ok := index[z.GreenhouseID]; ok {
			greenhouses[i].Zones = append(greenhouses[i].Zones, z)
		}
	}
	return greenhouses, nil
}

// Get loads a greenhouse by id.
func (r *GreenhouseRepository) Get(ctx context.Context, id int64) (*fleet.Greenhouse, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("greenhouse repo: nil db")
	}
	if id <= 0 {
		return nil, fleet.ErrInvalidID
	}

	query := fmt.Sprintf(`
SELECT id, name, location, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var g fleet.Greenhouse
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID,
		&g.Name,
		&g.Location,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()

	zones, err := r.zones(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Zones = zones
	return &g, nil
}

// Save upserts a greenhouse and its zones. Pass a *sql.Tx to make the
// write atomic.
func (r *GreenhouseRepository) Save(ctx context.Context, g *fleet.Greenhouse) error {
	if r == nil || r.db == nil {
		return errors.New("greenhouse repo: nil db")
	}
	if g == nil {
		return errors.New("greenhouse repo: nil greenhouse")
	}
	if err := g.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	name,
	location
) VALUES (
	$1, $2, $3
)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	location = EXCLUDED.location,
	updated_at = NOW()`, r.table)

	if _, err := r.db.ExecContext(ctx, query, g.ID, g.Name, g.Location); err != nil {
		return err
	}

	zoneQuery := fmt.Sprintf(`
INSERT INTO %s (
	id,
	greenhouse_id,
	name,
	crop_type
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (id)
DO UPDATE SET
	greenhouse_id = EXCLUDED.greenhouse_id,
	name = EXCLUDED.name,
	crop_type = EXCLUDED.crop_type`, r.zonesTable)

	for i := range g.Zones {
		g.Zones[i].GreenhouseID = g.ID
		z := g.Zones[i]
		if _, err := r.db.ExecContext(ctx, zoneQuery, z.ID, z.GreenhouseID, z.Name, z.CropType); err != nil {
			return fmt.Errorf("greenhouse repo: zone %d: %w", z.ID, err)
		}
	}

	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	return nil
}

func (r *GreenhouseRepository) zones(ctx context.Context, greenhouseID int64) ([]fleet.Zone, error) {
	query := fmt.Sprintf(`
SELECT id, greenhouse_id, name, crop_type
FROM %s
WHERE $1 = 0 OR greenhouse_id = $1
ORDER BY greenhouse_id, id`, r.zonesTable)

	rows, err := r.db.QueryContext(ctx, query, greenhouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	zones := []fleet.Zone{}
	for rows.Next() {
		var z fleet.Zone
		if err := rows.Scan(&z.ID, &z.GreenhouseID, &z.Name, &z.CropType); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}
