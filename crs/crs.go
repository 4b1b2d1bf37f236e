// Package crs wraps the PROJ bindings behind a small transformer interface so
// the normalizer never touches proj directly.
package crs

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-proj/v10"

	"github.com/chrisodt/georef/entities"
)

// Transformer converts a single coordinate from a source CRS into the
// working CRS. Implementations are not safe for concurrent use.
type Transformer interface {
	Transform(x, y float64) (float64, float64, error)
	Close()
}

type projTransformer struct {
	pj *proj.PJ
}

// NewTransformer builds a source->target transformation. Source and target
// are authority:code strings such as "EPSG:25832". An empty or unsupported
// source yields a *entities.CRSError.
func NewTransformer(source, target string) (Transformer, error) {
	if strings.TrimSpace(source) == "" {
		return nil, &entities.CRSError{CRS: source}
	}

	pj, err := proj.NewCRSToCRS(normalize(source), normalize(target), nil)
	if err != nil {
		return nil, &entities.CRSError{CRS: source, Err: err}
	}

	return &projTransformer{pj: pj}, nil
}

func (t *projTransformer) Transform(x, y float64) (float64, float64, error) {
	coord, err := t.pj.Forward(proj.NewCoord(x, y, 0, 0))
	if err != nil {
		return 0, 0, fmt.Errorf("transform (%f, %f): %w", x, y, err)
	}

	return coord.X(), coord.Y(), nil
}

func (t *projTransformer) Close() {
	t.pj.Destroy()
}

// normalize maps geographic identifiers with authority lat/lon axis order to
// their lon/lat equivalents, so coordinates keep the x=easting, y=northing
// convention the rest of the pipeline assumes.
func normalize(id string) string {
	switch strings.ToUpper(strings.TrimSpace(id)) {
	case "EPSG:4326", "WGS84", "CRS84":
		return "OGC:CRS84"
	default:
		return strings.TrimSpace(id)
	}
}

// Identity returns a transformer that leaves coordinates untouched. Used when
// the source collection already is in the working CRS, and in tests.
func Identity() Transformer {
	return identity{}
}

type identity struct{}

func (identity) Transform(x, y float64) (float64, float64, error) {
	return x, y, nil
}

func (identity) Close() {}
