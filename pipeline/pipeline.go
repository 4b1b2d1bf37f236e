// Package pipeline wires the run together: container read, normalization,
// hierarchy build, classification, overlay and report assembly. Run is the
// sole entry point external collaborators consume.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrisodt/georef/cache"
	"github.com/chrisodt/georef/classify"
	"github.com/chrisodt/georef/crs"
	"github.com/chrisodt/georef/deduper"
	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/gpkg"
	"github.com/chrisodt/georef/hierarchy"
	"github.com/chrisodt/georef/normalizer"
	"github.com/chrisodt/georef/overlay"
	"github.com/chrisodt/georef/progress"
	"github.com/chrisodt/georef/report"
)

const (
	DefaultLayer     = "multipolygons"
	DefaultTargetCRS = "EPSG:25832"
	DefaultCityLevel = 8
)

type Config struct {
	GPKGPath             string
	Layer                string
	TargetCRS            string
	CityLevel            int
	LevelMap             map[string]int
	ContainmentThreshold float64
	AreaTolerance        float64
	Rules                []classify.Rule
	RemainderName        string
	Workers              int
	Cache                *cache.Store
	NoCache              bool
	Tracker              *progress.Tracker
	Logger               *zap.Logger
}

type Pipeline struct {
	cfg        Config
	classifier *classify.Classifier
	log        *zap.Logger
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Layer == "" {
		cfg.Layer = DefaultLayer
	}

	if cfg.TargetCRS == "" {
		cfg.TargetCRS = DefaultTargetCRS
	}

	if cfg.CityLevel == 0 {
		cfg.CityLevel = DefaultCityLevel
	}

	if cfg.ContainmentThreshold == 0 {
		cfg.ContainmentThreshold = 0.95
	}

	if cfg.AreaTolerance == 0 {
		cfg.AreaTolerance = overlay.DefaultAreaTolerance
	}

	if len(cfg.Rules) == 0 {
		cfg.Rules = classify.DefaultRules()
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Tracker == nil {
		cfg.Tracker = progress.New(cfg.Logger)
	}

	classifier, err := classify.New(cfg.Rules)
	if err != nil {
		return nil, err
	}

	ans := Pipeline{
		cfg:        cfg,
		classifier: classifier,
		log:        cfg.Logger,
	}

	return &ans, nil
}

// Run computes the land-use statistics for one city. Structural errors
// (CRS, city lookup) abort with no partial output; per-feature defects are
// tallied in the result.
func (p *Pipeline) Run(ctx context.Context, city string) (*entities.RunResult, error) {
	norm := normalizer.New(p.log)
	tracker := p.cfg.Tracker

	admin, landuse, discarded, err := p.collections(ctx, city, norm)
	if err != nil {
		return nil, err
	}

	tracker.IncrDiscarded(discarded)

	builder, err := hierarchy.NewBuilder(hierarchy.Config{
		CityLevel:            p.cfg.CityLevel,
		LevelMap:             p.cfg.LevelMap,
		ContainmentThreshold: p.cfg.ContainmentThreshold,
		RemainderName:        p.cfg.RemainderName,
		AreaTolerance:        p.cfg.AreaTolerance,
	}, p.log)
	if err != nil {
		return nil, err
	}

	tree, err := builder.Build(city, admin)
	if err != nil {
		return nil, err
	}

	if err := p.setStage(ctx, city, entities.StageBoundariesOK); err != nil {
		return nil, err
	}

	landuse = p.classifyAll(ctx, city, landuse)
	tracker.IncrClassified(len(landuse))

	engine, err := overlay.NewEngine(overlay.Config{
		Tree:          tree,
		Classifier:    p.classifier,
		AreaTolerance: p.cfg.AreaTolerance,
		Workers:       p.cfg.Workers,
		Logger:        p.log,
	})
	if err != nil {
		return nil, err
	}

	overlayRes, err := engine.Aggregate(ctx, landuse)
	if err != nil {
		return nil, err
	}

	tracker.IncrSkipped(overlayRes.Skipped)

	records := report.Assemble(overlayRes.Records)
	tracker.IncrRecords(len(records))

	unclassified := 0.0

	for _, rec := range records {
		if rec.Class == classify.ClassUnclassified {
			unclassified += rec.AreaM2
		}
	}

	ans := entities.RunResult{
		RunID:             uuid.NewString(),
		City:              tree.Root().Name,
		Records:           records,
		DiscardedFeatures: discarded,
		SkippedFeatures:   overlayRes.Skipped,
		UnclassifiedArea:  unclassified,
		CityArea:          tree.Root().Area,
	}

	return &ans, nil
}

// Classes returns the taxonomy leaves in report column order.
func (p *Pipeline) Classes() []classify.Class {
	return p.classifier.Classes()
}

// collections produces the normalized admin and land-use collections,
// either from the stage cache or fresh from the container.
func (p *Pipeline) collections(ctx context.Context, city string, norm *normalizer.Normalizer) (admin, landuse []entities.Feature, discarded int, err error) {
	if cached, ok := p.tryCache(ctx, city, norm); ok {
		return cached.admin, cached.landuse, 0, nil
	}

	reader, err := gpkg.Open(p.cfg.GPKGPath)
	if err != nil {
		return nil, nil, 0, err
	}

	defer reader.Close()

	raw, srs, err := reader.ReadLayer(ctx, p.cfg.Layer)
	if err != nil {
		return nil, nil, 0, err
	}

	p.cfg.Tracker.IncrFeaturesRead(len(raw))

	raw = dedupe(raw, p.log)

	tr, err := p.transformer(srs)
	if err != nil {
		return nil, nil, 0, err
	}

	defer tr.Close()

	res, err := norm.Normalize(raw, tr)
	if err != nil {
		return nil, nil, 0, err
	}

	p.cfg.Tracker.IncrNormalized(len(res.Features))

	for i := range res.Features {
		f := &res.Features[i]

		if f.Tag("boundary") == "administrative" {
			if f.Tag("name") != "" {
				admin = append(admin, *f)
			}

			continue
		}

		landuse = append(landuse, *f)
	}

	if p.cfg.Cache != nil {
		if err := p.cfg.Cache.SaveFeatures(ctx, city, cache.KindAdmin, admin); err != nil {
			return nil, nil, 0, err
		}

		if err := p.cfg.Cache.SaveFeatures(ctx, city, cache.KindLandUse, landuse); err != nil {
			return nil, nil, 0, err
		}

		if err := p.cfg.Cache.SetStage(ctx, city, entities.StageCityExtracted); err != nil {
			return nil, nil, 0, err
		}
	}

	return admin, landuse, res.Discarded, nil
}

type cachedCollections struct {
	admin   []entities.Feature
	landuse []entities.Feature
}

func (p *Pipeline) tryCache(ctx context.Context, city string, norm *normalizer.Normalizer) (*cachedCollections, bool) {
	if p.cfg.Cache == nil || p.cfg.NoCache {
		return nil, false
	}

	stage, err := p.cfg.Cache.Stage(ctx, city)
	if err != nil || entities.StageRank(stage) < entities.StageRank(entities.StageCityExtracted) {
		return nil, false
	}

	admin, err := p.cfg.Cache.LoadFeatures(ctx, city, cache.KindAdmin)
	if err != nil {
		return nil, false
	}

	landuse, err := p.cfg.Cache.LoadFeatures(ctx, city, cache.KindLandUse)
	if err != nil {
		return nil, false
	}

	if !reparse(norm, admin) || !reparse(norm, landuse) {
		p.log.Warn("cache held unparsable geometry, rereading container", zap.String("city", city))

		return nil, false
	}

	p.log.Info("resuming from cache",
		zap.String("city", city),
		zap.String("stage", stage),
		zap.Int("admin", len(admin)),
		zap.Int("landuse", len(landuse)),
	)

	return &cachedCollections{admin: admin, landuse: landuse}, true
}

// reparse restores parsed geometries on cache-loaded features.
func reparse(norm *normalizer.Normalizer, feats []entities.Feature) bool {
	for i := range feats {
		geom, err := norm.Context().NewGeomFromWKB(feats[i].WKB)
		if err != nil {
			return false
		}

		feats[i].Geom = geom
	}

	return true
}

func (p *Pipeline) classifyAll(ctx context.Context, city string, landuse []entities.Feature) []entities.Feature {
	changed := false

	for i := range landuse {
		if landuse[i].Class == "" {
			landuse[i].Class = p.classifier.Classify(&landuse[i]).ID
			changed = true
		}
	}

	if p.cfg.Cache != nil && changed {
		if err := p.cfg.Cache.SaveFeatures(ctx, city, cache.KindLandUse, landuse); err != nil {
			p.log.Warn("failed to cache classified features", zap.Error(err))
		} else if err := p.cfg.Cache.SetStage(ctx, city, entities.StageClassified); err != nil {
			p.log.Warn("failed to advance cache stage", zap.Error(err))
		}
	}

	return landuse
}

func (p *Pipeline) setStage(ctx context.Context, city, stage string) error {
	if p.cfg.Cache == nil {
		return nil
	}

	current, err := p.cfg.Cache.Stage(ctx, city)
	if err != nil {
		return err
	}

	if entities.StageRank(current) >= entities.StageRank(stage) {
		return nil
	}

	return p.cfg.Cache.SetStage(ctx, city, stage)
}

func (p *Pipeline) transformer(sourceCRS string) (crs.Transformer, error) {
	if sourceCRS == p.cfg.TargetCRS {
		return crs.Identity(), nil
	}

	return crs.NewTransformer(sourceCRS, p.cfg.TargetCRS)
}

// dedupe drops rows sharing a source identifier; duplicate OSM relations in
// an extract would otherwise inflate same-class unions for no reason.
func dedupe(raw []gpkg.RawFeature, log *zap.Logger) []gpkg.RawFeature {
	dedup := deduper.New()
	ans := raw[:0]
	dropped := 0

	for i := range raw {
		if raw[i].SourceID != "" && !dedup.AddIfNotExists(context.Background(), raw[i].SourceID) {
			dropped++

			continue
		}

		ans = append(ans, raw[i])
	}

	if dropped > 0 {
		log.Debug(fmt.Sprintf("dropped %d duplicate source rows", dropped))
	}

	return ans
}
