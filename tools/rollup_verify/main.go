package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	alarmrepo "wellhead-monitor/internal/alarms/infrastructure/postgres"
	"wellhead-monitor/internal/analytics/application"
	"wellhead-monitor/internal/analytics/domain/rollup"
	analyticsrepo "wellhead-monitor/internal/analytics/infrastructure/postgres"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	masterdatarepo "wellhead-monitor/internal/masterdata/infrastructure/postgres"
	telemetry "wellhead-monitor/internal/telemetry/domain"
	telemetrypostgres "wellhead-monitor/internal/telemetry/infrastructure/postgres"
)

const timeLayout = time.RFC3339

type config struct {
	dbURL         string
	definition    string
	rollupsConfig string
	from          time.Time
	to            time.Time
	outDir        string
	tolerance     float64
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	defs := application.DefaultDefinitions()
	if cfg.rollupsConfig != "" {
		if defs, err = application.LoadDefinitions(cfg.rollupsConfig); err != nil {
			fmt.Fprintln(os.Stderr, "load rollups:", err)
			os.Exit(2)
		}
	}
	def, ok := findDefinition(defs, cfg.definition)
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown rollup:", cfg.definition)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx := context.Background()
	mismatches, buckets, err := verify(ctx, db, def, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(2)
	}

	if cfg.outDir != "" {
		if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "create out dir:", err)
			os.Exit(2)
		}
		if err := writeMismatches(filepath.Join(cfg.outDir, def.Name+"_mismatches.csv"), mismatches); err != nil {
			fmt.Fprintln(os.Stderr, "write mismatches:", err)
			os.Exit(2)
		}
	}

	fmt.Printf("rollup=%s window=[%s, %s) buckets=%d mismatches=%d\n",
		def.Name, cfg.from.Format(timeLayout), cfg.to.Format(timeLayout), buckets, len(mismatches))
	for _, m := range mismatches {
		if m.Missing != "" {
			fmt.Printf("  %s missing in %s\n", m.Key, m.Missing)
			continue
		}
		fmt.Printf("  %s %s expected=%s actual=%s\n", m.Key, m.Aggregate, formatFloat(m.Expected), formatFloat(m.Actual))
	}
	if len(mismatches) > 0 {
		os.Exit(1)
	}
}

func parseFlags() (config, error) {
	var cfg config
	var from, to string
	flag.StringVar(&cfg.dbURL, "db", os.Getenv("DATABASE_URL"), "Postgres DSN")
	flag.StringVar(&cfg.definition, "rollup", "", "rollup definition name")
	flag.StringVar(&cfg.rollupsConfig, "rollups", os.Getenv("ROLLUPS_CONFIG"), "rollup definitions YAML (defaults when empty)")
	flag.StringVar(&from, "from", "", "first bucket start (RFC3339)")
	flag.StringVar(&to, "to", "", "end of the last bucket (RFC3339)")
	flag.StringVar(&cfg.outDir, "out", "", "directory for the mismatch CSV")
	flag.Float64Var(&cfg.tolerance, "tolerance", 1e-9, "relative tolerance for avg and stddev")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("-db or DATABASE_URL is required")
	}
	if cfg.definition == "" {
		return cfg, errors.New("-rollup is required")
	}
	var err error
	if cfg.from, err = time.Parse(timeLayout, from); err != nil {
		return cfg, errors.New("-from must be RFC3339")
	}
	if cfg.to, err = time.Parse(timeLayout, to); err != nil {
		return cfg, errors.New("-to must be RFC3339")
	}
	if !cfg.to.After(cfg.from) {
		return cfg, errors.New("-to must be after -from")
	}
	return cfg, nil
}

func findDefinition(defs []rollup.Definition, name string) (rollup.Definition, bool) {
	for _, def := range defs {
		if def.Name == name {
			return def, true
		}
	}
	return rollup.Definition{}, false
}

// verify recomputes every bucket inside [from, to) from raw readings and
// compares it with the stored rows.
func verify(ctx context.Context, db *sql.DB, def rollup.Definition, cfg config) ([]rollup.Mismatch, int, error) {
	loader, err := masterdatarepo.NewCatalogLoader(masterdatarepo.NewAssetRepository(db), alarmrepo.NewAlarmRuleRepository(db))
	if err != nil {
		return nil, 0, err
	}
	data, err := loader.Load(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load catalog: %w", err)
	}
	catalog, err := masterdata.NewCatalog(data, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}

	window := rollup.Window{From: def.BucketStart(cfg.from), To: def.BucketStart(cfg.to)}
	if window.Empty() {
		return nil, 0, errors.New("range shorter than one bucket")
	}
	codes := rollup.ParameterCodes(def, catalog.Parameters())
	if len(codes) == 0 {
		return nil, 0, nil
	}
	readings, err := telemetrypostgres.NewReadingRepository(db).ListRange(ctx, telemetry.ReadingQuery{
		ParameterCodes: codes,
		From:           window.From,
		To:             window.To,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load readings: %w", err)
	}
	expected := rollup.Compute(def, window, readings, catalog, time.Now().UTC())

	buckets, err := analyticsrepo.NewBucketRepository(db)
	if err != nil {
		return nil, 0, err
	}
	stored, err := buckets.ListBuckets(ctx, rollup.BucketQuery{Definition: def.Name, From: window.From, To: window.To})
	if err != nil {
		return nil, 0, fmt.Errorf("load buckets: %w", err)
	}
	return rollup.Verify(def, expected.Buckets, stored, cfg.tolerance), len(expected.Buckets), nil
}

func writeMismatches(path string, mismatches []rollup.Mismatch) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	_ = writer.Write([]string{"key", "aggregate", "expected", "actual", "missing"})
	for _, m := range mismatches {
		_ = writer.Write([]string{m.Key, string(m.Aggregate), formatFloat(m.Expected), formatFloat(m.Actual), m.Missing})
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
