// Package normalizer turns raw container features into working-CRS features:
// every geometry is reprojected, repaired and reduced to its polygonal parts.
// Features that end up empty are dropped and tallied, never silently lost.
package normalizer

import (
	"fmt"

	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/chrisodt/georef/crs"
	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/gpkg"
)

type Normalizer struct {
	geosCtx *geos.Context
	log     *zap.Logger
}

func New(log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}

	return &Normalizer{
		geosCtx: geos.NewContext(),
		log:     log,
	}
}

// Context exposes the normalizer's GEOS context so the single-threaded parts
// of the pipeline can build geometries compatible with normalized features.
func (n *Normalizer) Context() *geos.Context {
	return n.geosCtx
}

// Result is a normalized collection plus the discard tally.
type Result struct {
	Features  []entities.Feature
	Discarded int
}

// Normalize reprojects every raw feature through tr, repairs invalid
// geometries and keeps only the polygonal parts. The returned features own
// fresh geometries; the input is never mutated.
func (n *Normalizer) Normalize(raw []gpkg.RawFeature, tr crs.Transformer) (*Result, error) {
	ans := Result{
		Features: make([]entities.Feature, 0, len(raw)),
	}

	for i := range raw {
		feat, ok, err := n.normalizeOne(&raw[i], tr)
		if err != nil {
			return nil, err
		}

		if !ok {
			ans.Discarded++

			continue
		}

		ans.Features = append(ans.Features, feat)
	}

	n.log.Debug("normalized collection",
		zap.Int("features", len(ans.Features)),
		zap.Int("discarded", ans.Discarded),
	)

	return &ans, nil
}

func (n *Normalizer) normalizeOne(raw *gpkg.RawFeature, tr crs.Transformer) (entities.Feature, bool, error) {
	if len(raw.WKB) == 0 {
		return entities.Feature{}, false, nil
	}

	geom, err := n.geosCtx.NewGeomFromWKB(raw.WKB)
	if err != nil {
		n.log.Debug("unparsable geometry", zap.String("source_id", raw.SourceID), zap.Error(err))

		return entities.Feature{}, false, nil
	}

	geom, err = transformGeom(n.geosCtx, geom, tr)
	if err != nil {
		return entities.Feature{}, false, fmt.Errorf("feature %s: %w", raw.SourceID, err)
	}

	geom = Repair(geom)
	if geom == nil {
		return entities.Feature{}, false, nil
	}

	feat := entities.Feature{
		SourceID: raw.SourceID,
		Tags:     raw.Tags,
		Geom:     geom,
		WKB:      geom.ToWKB(),
	}

	return feat, true, nil
}

// Repair makes a geometry valid and reduces it to its polygonal parts. It
// returns nil when nothing polygonal with positive area remains.
func Repair(g *geos.Geom) *geos.Geom {
	if g == nil || g.IsEmpty() {
		return nil
	}

	if !g.IsValid() {
		fixed := g.MakeValid()
		if fixed == nil || fixed.IsEmpty() {
			fixed = g.Buffer(0, 8)
		}

		if fixed == nil || fixed.IsEmpty() {
			return nil
		}

		g = fixed
	}

	g = polygonal(g)
	if g == nil || g.IsEmpty() || g.Area() == 0 {
		return nil
	}

	return g
}

// polygonal extracts the Polygon/MultiPolygon content of a geometry.
// MakeValid may return a collection mixing polygons with collapsed lines and
// points; only the areal parts matter here.
func polygonal(g *geos.Geom) *geos.Geom {
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return g
	case geos.TypeIDGeometryCollection:
		var parts []*geos.Geom

		for i := 0; i < g.NumGeometries(); i++ {
			part := polygonal(g.Geometry(i))
			if part != nil && !part.IsEmpty() {
				parts = append(parts, part)
			}
		}

		if len(parts) == 0 {
			return nil
		}

		ans := parts[0]
		for _, part := range parts[1:] {
			ans = ans.Union(part)
		}

		return ans
	default:
		return nil
	}
}

// transformGeom rebuilds a polygonal geometry with every coordinate run
// through tr. Ring closure is preserved because the first and last ring
// coordinates transform identically.
func transformGeom(ctx *geos.Context, g *geos.Geom, tr crs.Transformer) (*geos.Geom, error) {
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		return transformPolygon(ctx, g, tr)
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		var parts []*geos.Geom

		for i := 0; i < g.NumGeometries(); i++ {
			part, err := transformGeom(ctx, g.Geometry(i), tr)
			if err != nil {
				return nil, err
			}

			if part != nil {
				parts = append(parts, part)
			}
		}

		return ctx.NewCollection(geos.TypeIDMultiPolygon, parts), nil
	default:
		// non-polygonal input is dropped later by Repair
		return g, nil
	}
}

func transformPolygon(ctx *geos.Context, g *geos.Geom, tr crs.Transformer) (*geos.Geom, error) {
	rings := make([][][]float64, 0, g.NumInteriorRings()+1)

	ring, err := transformRing(g.ExteriorRing(), tr)
	if err != nil {
		return nil, err
	}

	rings = append(rings, ring)

	for i := 0; i < g.NumInteriorRings(); i++ {
		ring, err := transformRing(g.InteriorRing(i), tr)
		if err != nil {
			return nil, err
		}

		rings = append(rings, ring)
	}

	return ctx.NewPolygon(rings), nil
}

func transformRing(ring *geos.Geom, tr crs.Transformer) ([][]float64, error) {
	coords := ring.CoordSeq().ToCoords()
	ans := make([][]float64, len(coords))

	for i, c := range coords {
		x, y, err := tr.Transform(c[0], c[1])
		if err != nil {
			return nil, err
		}

		ans[i] = []float64{x, y}
	}

	return ans, nil
}
