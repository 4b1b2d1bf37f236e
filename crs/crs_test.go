package crs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chrisodt/georef/crs"
	"github.com/chrisodt/georef/entities"
)

func TestNewTransformerEmptySource(t *testing.T) {
	t.Parallel()

	_, err := crs.NewTransformer("", "EPSG:25832")

	var crsErr *entities.CRSError

	require.ErrorAs(t, err, &crsErr)
}

func TestNewTransformerUnsupportedSource(t *testing.T) {
	t.Parallel()

	_, err := crs.NewTransformer("EPSG:0", "EPSG:25832")

	var crsErr *entities.CRSError

	require.ErrorAs(t, err, &crsErr)
}

func TestIdentity(t *testing.T) {
	t.Parallel()

	tr := crs.Identity()
	defer tr.Close()

	x, y, err := tr.Transform(356000.5, 5644000.25)
	require.NoError(t, err)
	require.Equal(t, 356000.5, x)
	require.Equal(t, 5644000.25, y)
}

func TestTransformWGS84ToUTM(t *testing.T) {
	t.Parallel()

	tr, err := crs.NewTransformer("EPSG:4326", "EPSG:25832")
	require.NoError(t, err)

	defer tr.Close()

	// Cologne cathedral, roughly. The source is geographic, so x must be
	// longitude despite the authority axis order of EPSG:4326.
	x, y, err := tr.Transform(6.9583, 50.9413)
	require.NoError(t, err)
	require.Greater(t, x, 300000.0)
	require.Less(t, x, 500000.0)
	require.Greater(t, y, 5.5e6)
	require.Less(t, y, 5.8e6)
}
