package normalizer_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"

	"github.com/chrisodt/georef/crs"
	"github.com/chrisodt/georef/gpkg"
	"github.com/chrisodt/georef/normalizer"
)

func wkbOf(t *testing.T, gctx *geos.Context, wkt string) []byte {
	t.Helper()

	geom, err := gctx.NewGeomFromWKT(wkt)
	require.NoError(t, err)

	return geom.ToWKB()
}

func TestNormalizeKeepsValidPolygons(t *testing.T) {
	t.Parallel()

	gctx := geos.NewContext()
	raw := []gpkg.RawFeature{
		{
			SourceID: "1",
			Tags:     map[string]string{"landuse": "residential"},
			WKB:      wkbOf(t, gctx, "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))"),
		},
	}

	res, err := normalizer.New(nil).Normalize(raw, crs.Identity())
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	require.Zero(t, res.Discarded)

	f := res.Features[0]
	require.Equal(t, "1", f.SourceID)
	require.Equal(t, "residential", f.Tag("landuse"))
	require.NotNil(t, f.Geom)
	require.NotEmpty(t, f.WKB)
	require.InDelta(t, 100.0, f.Geom.Area(), 1e-9)
}

func TestNormalizeRepairsSelfIntersection(t *testing.T) {
	t.Parallel()

	gctx := geos.NewContext()

	// bowtie: two triangles meeting at (5,5), invalid as drawn
	raw := []gpkg.RawFeature{
		{
			SourceID: "bowtie",
			WKB:      wkbOf(t, gctx, "POLYGON ((0 0, 10 10, 10 0, 0 10, 0 0))"),
		},
	}

	res, err := normalizer.New(nil).Normalize(raw, crs.Identity())
	require.NoError(t, err)
	require.Len(t, res.Features, 1)

	geom := res.Features[0].Geom
	require.True(t, geom.IsValid())
	require.InDelta(t, 50.0, geom.Area(), 1e-9)
}

func TestNormalizeDiscardsNonPolygonal(t *testing.T) {
	t.Parallel()

	gctx := geos.NewContext()
	raw := []gpkg.RawFeature{
		{SourceID: "line", WKB: wkbOf(t, gctx, "LINESTRING (0 0, 10 10)")},
		{SourceID: "point", WKB: wkbOf(t, gctx, "POINT (1 1)")},
		{SourceID: "empty"},
		{SourceID: "garbage", WKB: []byte{0xde, 0xad}},
		{SourceID: "ok", WKB: wkbOf(t, gctx, "POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))")},
	}

	res, err := normalizer.New(nil).Normalize(raw, crs.Identity())
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	require.Equal(t, "ok", res.Features[0].SourceID)
	require.Equal(t, 4, res.Discarded)
}

func TestNormalizeKeepsMultiPolygonParts(t *testing.T) {
	t.Parallel()

	gctx := geos.NewContext()
	raw := []gpkg.RawFeature{
		{
			SourceID: "multi",
			WKB: wkbOf(t, gctx,
				"MULTIPOLYGON (((0 0, 2 0, 2 2, 0 2, 0 0)), ((5 5, 7 5, 7 7, 5 7, 5 5)))"),
		},
	}

	res, err := normalizer.New(nil).Normalize(raw, crs.Identity())
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	require.InDelta(t, 8.0, res.Features[0].Geom.Area(), 1e-9)
}

func TestRepairNil(t *testing.T) {
	t.Parallel()

	require.Nil(t, normalizer.Repair(nil))
}

type offsetTransformer struct{ dx, dy float64 }

func (o offsetTransformer) Transform(x, y float64) (float64, float64, error) {
	return x + o.dx, y + o.dy, nil
}

func (offsetTransformer) Close() {}

func TestNormalizeAppliesTransformer(t *testing.T) {
	t.Parallel()

	gctx := geos.NewContext()
	raw := []gpkg.RawFeature{
		{
			SourceID: "1",
			WKB:      wkbOf(t, gctx, "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))"),
		},
	}

	res, err := normalizer.New(nil).Normalize(raw, offsetTransformer{dx: 100, dy: 200})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)

	bounds := res.Features[0].Geom.Bounds()
	require.InDelta(t, 100.0, bounds.MinX, 1e-9)
	require.InDelta(t, 200.0, bounds.MinY, 1e-9)
	require.InDelta(t, 100.0, res.Features[0].Geom.Area(), 1e-9)
}
