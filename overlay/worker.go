package overlay

import (
	"go.uber.org/zap"

	"github.com/twpayne/go-geos"

	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/hierarchy"
)

// worker owns one GEOS context. Node geometries are parsed into that context
// lazily from WKB because geometries must never cross contexts.
type worker struct {
	engine  *Engine
	gctx    *geos.Context
	nodes   map[*hierarchy.Node]*geos.Geom
	unions  map[pairKey]*geos.Geom
	skipped int
}

func newWorker(e *Engine) *worker {
	return &worker{
		engine: e,
		gctx:   geos.NewContext(),
		nodes:  make(map[*hierarchy.Node]*geos.Geom),
		unions: make(map[pairKey]*geos.Geom),
	}
}

func (w *worker) nodeGeom(n *hierarchy.Node) *geos.Geom {
	if g, ok := w.nodes[n]; ok {
		return g
	}

	g, err := w.gctx.NewGeomFromWKB(n.WKB)
	if err != nil {
		g = nil
	}

	w.nodes[n] = g

	return g
}

// process attributes one feature. A degenerate geometry contributes zero
// area and counts as skipped; it never aborts the run.
func (w *worker) process(feat *entities.Feature) {
	geom, err := w.gctx.NewGeomFromWKB(feat.WKB)
	if err != nil || geom.IsEmpty() {
		w.skipped++

		w.engine.log.Debug("skipping degenerate feature",
			zap.String("source_id", feat.SourceID),
		)

		return
	}

	featArea := geom.Area()
	if featArea == 0 {
		w.skipped++

		return
	}

	bounds := geom.Bounds()

	w.engine.tree.Search(bounds, func(n *hierarchy.Node) bool {
		w.attribute(feat, geom, featArea, n)

		return true
	})
}

// attribute adds to (n, feat.Class) the part of the feature inside n but
// outside all of n's children. Leaves receive the full intersection;
// internal nodes only what no descendant claims.
func (w *worker) attribute(feat *entities.Feature, geom *geos.Geom, featArea float64, n *hierarchy.Node) {
	nodeGeom := w.nodeGeom(n)
	if nodeGeom == nil || !nodeGeom.Intersects(geom) {
		return
	}

	own := nodeGeom.Intersection(geom)
	if own.IsEmpty() {
		return
	}

	for _, child := range n.Children {
		childGeom := w.nodeGeom(child)
		if childGeom == nil || !childGeom.Intersects(own) {
			continue
		}

		own = own.Difference(childGeom)
		if own.IsEmpty() {
			return
		}
	}

	smaller := featArea
	if n.Area < smaller {
		smaller = n.Area
	}

	if own.Area() <= w.engine.tol*smaller {
		return
	}

	key := pairKey{node: n, class: w.engine.classifier.Class(feat.Class).ID}

	if prev, ok := w.unions[key]; ok {
		w.unions[key] = prev.Union(own)
	} else {
		w.unions[key] = own
	}
}

// pieces serializes the worker's per-pair unions for the merge step.
func (w *worker) pieces() []piece {
	ans := make([]piece, 0, len(w.unions))

	for key, geom := range w.unions {
		ans = append(ans, piece{
			node:  key.node,
			class: key.class,
			wkb:   geom.ToWKB(),
		})
	}

	return ans
}
