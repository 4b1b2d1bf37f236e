package gpkg_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"

	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/gpkg"
	"github.com/chrisodt/georef/internal/testutil"
)

func fixturePath(t *testing.T) string {
	t.Helper()

	gctx := geos.NewContext()

	rows := []testutil.GPKGRow{
		{
			FID: 1,
			WKB: testutil.Square(gctx, 0, 0, 100).ToWKB(),
			Tags: map[string]string{
				"boundary":    "administrative",
				"name":        "Musterstadt",
				"admin_level": "8",
			},
		},
		{
			FID: 2,
			WKB: testutil.Square(gctx, 10, 10, 20).ToWKB(),
			Tags: map[string]string{
				"landuse": "residential",
			},
		},
		{
			FID:  3,
			WKB:  nil, // empty geometry
			Tags: map[string]string{"landuse": "forest"},
		},
	}

	return testutil.WriteGPKG(t, "multipolygons", "EPSG", 25832, rows)
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := gpkg.Open("/does/not/exist.gpkg")
	require.Error(t, err)
}

func TestLayers(t *testing.T) {
	t.Parallel()

	reader, err := gpkg.Open(fixturePath(t))
	require.NoError(t, err)

	defer reader.Close()

	layers, err := reader.Layers(context.Background())
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.Equal(t, "multipolygons", layers[0].Name)
}

func TestSRS(t *testing.T) {
	t.Parallel()

	reader, err := gpkg.Open(fixturePath(t))
	require.NoError(t, err)

	defer reader.Close()

	srs, err := reader.SRS(context.Background(), "multipolygons")
	require.NoError(t, err)
	require.Equal(t, "EPSG:25832", srs)

	_, err = reader.SRS(context.Background(), "nope")

	var crsErr *entities.CRSError

	require.ErrorAs(t, err, &crsErr)
}

func TestReadLayer(t *testing.T) {
	t.Parallel()

	reader, err := gpkg.Open(fixturePath(t))
	require.NoError(t, err)

	defer reader.Close()

	feats, srs, err := reader.ReadLayer(context.Background(), "multipolygons")
	require.NoError(t, err)
	require.Equal(t, "EPSG:25832", srs)
	require.Len(t, feats, 3)

	require.Equal(t, "1", feats[0].SourceID)
	require.Equal(t, "administrative", feats[0].Tags["boundary"])
	require.Equal(t, "Musterstadt", feats[0].Tags["name"])
	require.NotEmpty(t, feats[0].WKB)

	require.Equal(t, "residential", feats[1].Tags["landuse"])

	// empty geometry rows arrive with nil WKB for the normalizer to tally
	require.Nil(t, feats[2].WKB)
	require.Equal(t, "forest", feats[2].Tags["landuse"])

	gctx := geos.NewContext()
	geom, err := gctx.NewGeomFromWKB(feats[0].WKB)
	require.NoError(t, err)
	require.InDelta(t, 10000.0, geom.Area(), 1e-6)
}

func TestReadLayerUnknownLayer(t *testing.T) {
	t.Parallel()

	reader, err := gpkg.Open(fixturePath(t))
	require.NoError(t, err)

	defer reader.Close()

	_, _, err = reader.ReadLayer(context.Background(), "buildings")

	var crsErr *entities.CRSError

	require.ErrorAs(t, err, &crsErr)
}
