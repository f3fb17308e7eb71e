package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"greenhouse-cloud/internal/auth"
	fleet "greenhouse-cloud/internal/fleet/domain"
	fleetrepo "greenhouse-cloud/internal/fleet/infrastructure/postgres"
	"greenhouse-cloud/internal/logging"
)

var metrics = []string{"ph", "ec", "temp_air", "humidity"}

type config struct {
	dsn            string
	baseURL        string
	ingestSecret   string
	idBase         int64
	greenhouses    int
	zonesPer       int
	nodesPer       int
	hours          int
	batchSize      int
	seedFleet      bool
	sendTelemetry  bool
	requestTimeout time.Duration
}

func main() {
	cfg := parseConfig()
	logger := logging.New("fleetseed", envOrDefault("LOG_LEVEL", "info"))
	if cfg.greenhouses <= 0 || cfg.zonesPer <= 0 {
		logger.Fatal("greenhouses and zones-per must be > 0")
	}

	ctx := context.Background()
	list := buildFleet(cfg.idBase, cfg.greenhouses, cfg.zonesPer)

	if cfg.seedFleet {
		if cfg.dsn == "" {
			logger.Fatal("PG_DSN or DATABASE_URL is required to seed the fleet")
		}
		db, err := sql.Open("pgx", cfg.dsn)
		if err != nil {
			logger.WithError(err).Fatal("open db")
		}
		defer db.Close()

		logger.WithFields(logging.Fields{
			"greenhouses": cfg.greenhouses,
			"zones_per":   cfg.zonesPer,
		}).Info("seeding greenhouses")
		if err := seedFleet(ctx, db, list); err != nil {
			logger.WithError(err).Fatal("seed fleet")
		}
	}

	if cfg.sendTelemetry {
		if cfg.baseURL == "" || cfg.ingestSecret == "" {
			logger.Fatal("base-url and ingest-secret are required to send telemetry")
		}
		client := &http.Client{Timeout: cfg.requestTimeout}
		start := time.Now().UTC().Add(-time.Duration(cfg.hours) * time.Hour).Truncate(time.Hour)
		updates := buildUpdates(list, cfg.nodesPer, start, cfg.hours)

		logger.WithFields(logging.Fields{
			"updates":    len(updates),
			"batch_size": cfg.batchSize,
		}).Info("sending telemetry")
		sent := time.Now()
		accepted, err := sendBatches(ctx, client, cfg.baseURL, []byte(cfg.ingestSecret), updates, cfg.batchSize)
		if err != nil {
			logger.WithError(err).Fatal("send telemetry")
		}
		logger.WithFields(logging.Fields{
			"accepted": accepted,
			"elapsed":  time.Since(sent).String(),
		}).Info("telemetry sent")
	}

	logger.Info("fleet seed completed")
}

func parseConfig() config {
	cfg := config{}
	var idBase int
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "API base URL for telemetry ingest")
	flag.StringVar(&cfg.ingestSecret, "ingest-secret", envOrDefault("INGEST_HMAC_SECRET", ""), "ingest HMAC secret")
	flag.IntVar(&idBase, "id-base", envOrInt("ID_BASE", 1000), "first greenhouse id")
	flag.IntVar(&cfg.greenhouses, "greenhouses", envOrInt("GREENHOUSES", 3), "number of greenhouses to seed")
	flag.IntVar(&cfg.zonesPer, "zones-per", envOrInt("ZONES_PER", 4), "zones per greenhouse")
	flag.IntVar(&cfg.nodesPer, "nodes-per", envOrInt("NODES_PER", 2), "nodes per zone")
	flag.IntVar(&cfg.hours, "hours", envOrInt("HOURS", 24), "hours of readings to send")
	flag.IntVar(&cfg.batchSize, "batch-size", envOrInt("BATCH_SIZE", 200), "updates per ingest request")
	flag.BoolVar(&cfg.seedFleet, "seed-fleet", envOrBool("SEED_FLEET", true), "upsert greenhouses and zones")
	flag.BoolVar(&cfg.sendTelemetry, "send-telemetry", envOrBool("SEND_TELEMETRY", false), "post signed telemetry batches")
	flag.DurationVar(&cfg.requestTimeout, "timeout", 10*time.Second, "ingest request timeout")
	flag.Parse()
	cfg.idBase = int64(idBase)
	return cfg
}

func buildFleet(idBase int64, greenhouses, zonesPer int) []fleet.Greenhouse {
	list := make([]fleet.Greenhouse, 0, greenhouses)
	for i := 0; i < greenhouses; i++ {
		id := idBase + int64(i)
		g := fleet.Greenhouse{
			ID:       id,
			Name:     fmt.Sprintf("greenhouse-%04d", id),
			Location: fmt.Sprintf("site-%d", i%3+1),
		}
		for z := 1; z <= zonesPer; z++ {
			g.Zones = append(g.Zones, fleet.Zone{
				ID:           id*100 + int64(z),
				GreenhouseID: id,
				Name:         fmt.Sprintf("zone-%d", z),
				CropType:     []string{"tomato", "lettuce", "basil"}[z%3],
			})
		}
		list = append(list, g)
	}
	return list
}

func seedFleet(ctx context.Context, db *sql.DB, list []fleet.Greenhouse) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	repo := fleetrepo.NewGreenhouseRepository(tx)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i := range list {
		if err := repo.Save(ctx, &list[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("greenhouse %d: %w", list[i].ID, err)
		}
	}
	return tx.Commit()
}

type update struct {
	ZoneID     int64   `json:"zoneId"`
	NodeID     int64   `json:"nodeId"`
	Channel    string  `json:"channel,omitempty"`
	MetricType string  `json:"metricType"`
	Value      float64 `json:"value"`
	Timestamp  int64   `json:"timestamp"`
}

func buildUpdates(list []fleet.Greenhouse, nodesPer int, start time.Time, hours int) []update {
	var out []update
	for hour := 0; hour < hours; hour++ {
		ts := start.Add(time.Duration(hour) * time.Hour).Unix()
		for _, g := range list {
			for _, zoneID := range g.ZoneIDs() {
				for n := 1; n <= nodesPer; n++ {
					nodeID := zoneID*10 + int64(n)
					for idx, metric := range metrics {
						out = append(out, update{
							ZoneID:     zoneID,
							NodeID:     nodeID,
							Channel:    fmt.Sprintf("port-%d", idx),
							MetricType: metric,
							Value:      float64(hour%12) + float64(idx)*0.5,
							Timestamp:  ts,
						})
					}
				}
			}
		}
	}
	return out
}

func sendBatches(ctx context.Context, client *http.Client, baseURL string, secret []byte, updates []update, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	url := strings.TrimRight(baseURL, "/") + "/api/v1/telemetry"
	accepted := 0
	for start := 0; start < len(updates); start += batchSize {
		end := start + batchSize
		if end > len(updates) {
			end = len(updates)
		}
		body, err := json.Marshal(map[string]any{"updates": updates[start:end]})
		if err != nil {
			return accepted, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return accepted, err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := auth.SignRequest(req, secret, body, time.Now()); err != nil {
			return accepted, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return accepted, err
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return accepted, fmt.Errorf("batch %d: status %d: %s", start/batchSize, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		var out struct {
			Accepted int `json:"accepted"`
		}
		_ = json.Unmarshal(raw, &out)
		accepted += out.Accepted
	}
	return accepted, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
