// Package overlay implements the aggregation engine: it intersects
// classified land-use features against the admin hierarchy and attributes
// area to the deepest containing node.
//
// Two policies prevent double counting. Across hierarchy levels, a node is
// attributed only the part of a feature outside all of its children, so area
// inside a district never also counts for the enclosing city. Within one
// node, all intersection pieces of the same class are unioned before
// measuring, so overlapping same-class features contribute their union, not
// their sum.
package overlay

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrisodt/georef/classify"
	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/hierarchy"
)

// DefaultAreaTolerance treats overlay slivers below this fraction of the
// smaller operand's area as zero.
const DefaultAreaTolerance = 1e-6

type Config struct {
	Tree          *hierarchy.Tree
	Classifier    *classify.Classifier
	AreaTolerance float64
	Workers       int
	Logger        *zap.Logger
}

type Engine struct {
	tree       *hierarchy.Tree
	classifier *classify.Classifier
	tol        float64
	workers    int
	log        *zap.Logger
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Tree == nil {
		return nil, errors.New("overlay: nil hierarchy")
	}

	if cfg.Classifier == nil {
		return nil, errors.New("overlay: nil classifier")
	}

	if cfg.AreaTolerance <= 0 {
		cfg.AreaTolerance = DefaultAreaTolerance
	}

	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Engine{
		tree:       cfg.Tree,
		classifier: cfg.Classifier,
		tol:        cfg.AreaTolerance,
		workers:    cfg.Workers,
		log:        cfg.Logger,
	}, nil
}

// Result is the unordered AreaRecord multiset plus the skip tally.
type Result struct {
	Records []entities.AreaRecord
	Skipped int
}

// piece is one worker's unioned contribution for a (node, class) pair,
// serialized so it can cross GEOS contexts.
type piece struct {
	node  *hierarchy.Node
	class string
	wkb   []byte
}

type pairKey struct {
	node  *hierarchy.Node
	class string
}

// Aggregate runs the overlay across workers partitioned by land-use feature.
// The hierarchy and its spatial index are shared read-only; each worker owns
// a private GEOS context and re-parses geometries from WKB, and per-pair
// contributions are combined in a single-threaded merge step.
func (e *Engine) Aggregate(ctx context.Context, feats []entities.Feature) (*Result, error) {
	jobs := make(chan *entities.Feature)

	var (
		mu      sync.Mutex
		pieces  []piece
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < e.workers; w++ {
		g.Go(func() error {
			worker := newWorker(e)

			for feat := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}

				worker.process(feat)
			}

			mu.Lock()
			pieces = append(pieces, worker.pieces()...)
			skipped += worker.skipped
			mu.Unlock()

			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)

		for i := range feats {
			select {
			case jobs <- &feats[i]:
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	ans := Result{
		Records: e.merge(pieces),
		Skipped: skipped,
	}

	e.log.Info("overlay aggregated",
		zap.Int("features", len(feats)),
		zap.Int("records", len(ans.Records)),
		zap.Int("skipped", ans.Skipped),
	)

	return &ans, nil
}

// merge unions the per-worker pieces of each (node, class) pair in a fresh
// context and measures the final areas.
func (e *Engine) merge(pieces []piece) []entities.AreaRecord {
	gctx := geos.NewContext()
	unions := make(map[pairKey]*geos.Geom)

	var order []pairKey

	for _, p := range pieces {
		geom, err := gctx.NewGeomFromWKB(p.wkb)
		if err != nil || geom.IsEmpty() {
			continue
		}

		key := pairKey{node: p.node, class: p.class}

		if prev, ok := unions[key]; ok {
			unions[key] = prev.Union(geom)
		} else {
			unions[key] = geom
			order = append(order, key)
		}
	}

	ans := make([]entities.AreaRecord, 0, len(order))

	for _, key := range order {
		area := unions[key].Area()
		if area == 0 {
			continue
		}

		ans = append(ans, entities.AreaRecord{
			NodePath: key.node.Path(),
			NodeName: key.node.Name,
			Level:    key.node.Level,
			Depth:    key.node.Depth(),
			Class:    key.class,
			Group:    e.classifier.Class(key.class).Group,
			AreaM2:   area,
		})
	}

	return ans
}
