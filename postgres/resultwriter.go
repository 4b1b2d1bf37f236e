// Package postgres persists run results to a PostgreSQL database, one row
// per (run, node, class) area record. Areas are written as NUMERIC to keep
// square-meter precision across drivers.
package postgres

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/chrisodt/georef/entities"
)

func NewResultWriter(db *sql.DB) *ResultWriter {
	return &ResultWriter{db: db}
}

type ResultWriter struct {
	db *sql.DB
}

// CreateSchema bootstraps the result tables; it is idempotent.
func (r *ResultWriter) CreateSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		city TEXT NOT NULL,
		city_area NUMERIC NOT NULL,
		discarded_features INTEGER NOT NULL,
		skipped_features INTEGER NOT NULL,
		unclassified_area NUMERIC NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return err
	}

	q = `CREATE TABLE IF NOT EXISTS area_records (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		node_path TEXT NOT NULL,
		node TEXT NOT NULL,
		level INTEGER NOT NULL,
		depth INTEGER NOT NULL,
		class TEXT NOT NULL,
		class_group TEXT NOT NULL,
		area_m2 NUMERIC NOT NULL,
		PRIMARY KEY (run_id, node_path, class)
	)`

	_, err := r.db.ExecContext(ctx, q)

	return err
}

// Save writes one run and its records in a single transaction.
func (r *ResultWriter) Save(ctx context.Context, res *entities.RunResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback() }()

	q := `INSERT INTO runs
		(run_id, city, city_area, discarded_features, skipped_features, unclassified_area)
		VALUES
		($1, $2, $3, $4, $5, $6)
		`

	_, err = tx.ExecContext(ctx, q,
		res.RunID, res.City, decimal.NewFromFloat(res.CityArea),
		res.DiscardedFeatures, res.SkippedFeatures,
		decimal.NewFromFloat(res.UnclassifiedArea),
	)
	if err != nil {
		return err
	}

	q = `INSERT INTO area_records
		(run_id, node_path, node, level, depth, class, class_group, area_m2)
		VALUES
		($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING
		`

	for _, rec := range res.Records {
		area := decimal.NewFromFloat(rec.AreaM2)

		_, err := tx.ExecContext(ctx, q,
			res.RunID, rec.NodePath, rec.NodeName, rec.Level, rec.Depth,
			rec.Class, rec.Group, area,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}
