package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	fleet "greenhouse-cloud/internal/fleet/domain"
	fleetpostgres "greenhouse-cloud/internal/fleet/infrastructure/postgres"
)

func TestGreenhouseRepository_NilDB(t *testing.T) {
	var repo *fleetpostgres.GreenhouseRepository
	if _, err := repo.List(context.Background()); err == nil {
		t.Fatalf("expected nil db error")
	}
}

func TestGreenhouseRepository_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := fleetpostgres.NewGreenhouseRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	_, _ = db.ExecContext(ctx, "DELETE FROM greenhouses WHERE id = $1", 880001)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	g := &fleet.Greenhouse{
		ID:       880001,
		Name:     "north",
		Location: "bay 4",
		Zones: []fleet.Zone{
			{ID: 880011, Name: "tomatoes", CropType: "tomato"},
			{ID: 880012, Name: "seedlings"},
		},
	}
	if err := fleetpostgres.NewGreenhouseRepository(tx).Save(ctx, g); err != nil {
		_ = tx.Rollback()
		t.Fatalf("save: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := repo.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "north" || len(got.Zones) != 2 {
		t.Fatalf("unexpected greenhouse %+v", got)
	}
	if got.Zones[0].GreenhouseID != g.ID || got.Zones[0].CropType != "tomato" {
		t.Fatalf("unexpected zone %+v", got.Zones[0])
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, item := range list {
		if item.ID == g.ID {
			found = len(item.Zones) == 2
		}
	}
	if !found {
		t.Fatalf("greenhouse missing from list")
	}

	missing, err := repo.Get(ctx, 880999)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing greenhouse, got %+v %v", missing, err)
	}
}
