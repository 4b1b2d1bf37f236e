package statsrunner

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chrisodt/georef/cache"
	"github.com/chrisodt/georef/classify"
	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/pipeline"
	"github.com/chrisodt/georef/postgres"
	"github.com/chrisodt/georef/progress"
	"github.com/chrisodt/georef/report"
	"github.com/chrisodt/georef/runner"
)

type statsRunner struct {
	cfg     *runner.Config
	log     *zap.Logger
	pipe    *pipeline.Pipeline
	tracker *progress.Tracker
	db      *sql.DB
	outfile *os.File
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeStats {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	log := runner.NewLogger(cfg.Debug)

	ans := &statsRunner{
		cfg:     cfg,
		log:     log,
		tracker: progress.New(log),
	}

	rules := classify.DefaultRules()

	if cfg.RulesFile != "" {
		var err error

		rules, err = classify.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
	}

	store, err := ans.openCache()
	if err != nil {
		return nil, err
	}

	pipe, err := pipeline.New(pipeline.Config{
		GPKGPath:             cfg.InputFile,
		Layer:                cfg.Layer,
		TargetCRS:            cfg.TargetCRS,
		CityLevel:            cfg.CityLevel,
		ContainmentThreshold: cfg.Containment,
		AreaTolerance:        cfg.AreaTolerance,
		Rules:                rules,
		RemainderName:        cfg.RemainderName,
		Workers:              cfg.Concurrency,
		Cache:                store,
		NoCache:              cfg.NoCache,
		Tracker:              ans.tracker,
		Logger:               log,
	})
	if err != nil {
		return nil, err
	}

	ans.pipe = pipe

	if cfg.Dsn != "" {
		db, err := sql.Open("pgx", cfg.Dsn)
		if err != nil {
			return nil, err
		}

		ans.db = db
	}

	return ans, nil
}

func (r *statsRunner) openCache() (*cache.Store, error) {
	if r.cfg.CacheDir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(r.cfg.CacheDir, 0o755); err != nil {
		return nil, err
	}

	store, err := cache.New(filepath.Join(r.cfg.CacheDir, "cache.db"))
	if err != nil {
		return nil, err
	}

	if err := store.AutoMigrate(context.Background()); err != nil {
		return nil, err
	}

	return store, nil
}

func (r *statsRunner) Run(ctx context.Context) error {
	t0 := time.Now().UTC()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.tracker.Run(ctx)

	res, err := r.pipe.Run(ctx, r.cfg.City)
	if err != nil {
		return err
	}

	r.tracker.Finish()

	r.log.Info("run complete",
		zap.String("run_id", res.RunID),
		zap.String("city", res.City),
		zap.Int("records", len(res.Records)),
		zap.Int("discarded_features", res.DiscardedFeatures),
		zap.Int("skipped_features", res.SkippedFeatures),
		zap.Float64("unclassified_area_m2", res.UnclassifiedArea),
		zap.Duration("duration", time.Now().UTC().Sub(t0)),
	)

	return r.writeOutputs(ctx, res)
}

// writeOutputs renders the artifacts once into buffers and fans them out to
// the configured sinks: local files or stdout, Postgres, S3.
func (r *statsRunner) writeOutputs(ctx context.Context, res *entities.RunResult) error {
	var long, wide bytes.Buffer

	if r.cfg.JSON {
		if err := report.WriteJSON(&long, res); err != nil {
			return err
		}
	} else {
		if err := report.WriteCSV(&long, res.Records); err != nil {
			return err
		}
	}

	if err := report.WriteWideCSV(&wide, res, r.pipe.Classes()); err != nil {
		return err
	}

	if err := r.writeResults(long.Bytes()); err != nil {
		return err
	}

	statsPath := r.cfg.StatsFile
	if statsPath == "" {
		statsPath = fmt.Sprintf("%s_stats_output.csv", res.City)
	}

	if err := os.WriteFile(statsPath, wide.Bytes(), 0o644); err != nil {
		return err
	}

	if r.db != nil {
		writer := postgres.NewResultWriter(r.db)

		if err := writer.CreateSchema(ctx); err != nil {
			return err
		}

		if err := writer.Save(ctx, res); err != nil {
			return err
		}
	}

	if r.cfg.S3Uploader != nil && r.cfg.S3Bucket != "" {
		prefix := fmt.Sprintf("%s/%s", res.City, res.RunID)

		ext := "csv"
		if r.cfg.JSON {
			ext = "json"
		}

		key := fmt.Sprintf("%s/records.%s", prefix, ext)
		if err := r.cfg.S3Uploader.Upload(ctx, r.cfg.S3Bucket, key, bytes.NewReader(long.Bytes())); err != nil {
			return err
		}

		key = fmt.Sprintf("%s/stats.csv", prefix)
		if err := r.cfg.S3Uploader.Upload(ctx, r.cfg.S3Bucket, key, bytes.NewReader(wide.Bytes())); err != nil {
			return err
		}
	}

	return nil
}

func (r *statsRunner) writeResults(data []byte) error {
	var out io.Writer

	switch r.cfg.ResultsFile {
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.Create(r.cfg.ResultsFile)
		if err != nil {
			return err
		}

		r.outfile = f
		out = f
	}

	_, err := out.Write(data)

	return err
}

func (r *statsRunner) Close(context.Context) error {
	var err error

	if r.db != nil {
		err = multierr.Append(err, r.db.Close())
	}

	if r.outfile != nil {
		err = multierr.Append(err, r.outfile.Close())
	}

	_ = r.log.Sync()

	return err
}
