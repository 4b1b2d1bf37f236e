// Package gpkg reads feature layers out of a GeoPackage container. A
// GeoPackage is a SQLite database with a registry of layers (gpkg_contents),
// their geometry columns (gpkg_geometry_columns) and spatial reference
// systems (gpkg_spatial_ref_sys); feature geometries are WKB wrapped in a
// small "GP" binary header.
package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/chrisodt/georef/entities"
)

// RawFeature is one row of a feature table before normalization: the
// geometry as bare WKB plus every non-geometry column as a string tag.
type RawFeature struct {
	SourceID string
	Tags     map[string]string
	WKB      []byte
}

// Layer describes one feature layer of the container.
type Layer struct {
	Name       string
	Identifier string
}

type Reader struct {
	db   *sql.DB
	path string
}

func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("gpkg %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("gpkg %s: %w", path, err)
	}

	ans := Reader{
		db:   db,
		path: path,
	}

	return &ans, nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

// Layers lists the feature layers registered in gpkg_contents.
func (r *Reader) Layers(ctx context.Context) ([]Layer, error) {
	q := `SELECT table_name, identifier FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name`

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("gpkg contents: %w", err)
	}

	defer rows.Close()

	var ans []Layer

	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.Name, &l.Identifier); err != nil {
			return nil, err
		}

		ans = append(ans, l)
	}

	return ans, rows.Err()
}

// SRS resolves the layer's spatial reference system to an authority:code
// string. The GeoPackage sentinel ids 0 and -1 mean "undefined" and are a
// *entities.CRSError, as is a missing registry row.
func (r *Reader) SRS(ctx context.Context, layer string) (string, error) {
	var srsID int64

	q := `SELECT srs_id FROM gpkg_geometry_columns WHERE table_name = ?`
	if err := r.db.QueryRowContext(ctx, q, layer).Scan(&srsID); err != nil {
		return "", &entities.CRSError{CRS: "", Err: fmt.Errorf("layer %s: %w", layer, err)}
	}

	if srsID == 0 || srsID == -1 {
		return "", &entities.CRSError{CRS: fmt.Sprintf("srs_id=%d", srsID)}
	}

	var (
		org  string
		code int64
	)

	q = `SELECT organization, organization_coordsys_id FROM gpkg_spatial_ref_sys WHERE srs_id = ?`
	if err := r.db.QueryRowContext(ctx, q, srsID).Scan(&org, &code); err != nil {
		return "", &entities.CRSError{CRS: fmt.Sprintf("srs_id=%d", srsID), Err: err}
	}

	if org == "" {
		return "", &entities.CRSError{CRS: fmt.Sprintf("srs_id=%d", srsID)}
	}

	return fmt.Sprintf("%s:%d", org, code), nil
}

// ReadLayer loads every feature of the named layer. It returns the features
// and the layer's CRS identifier. Rows whose geometry blob is empty or
// malformed are returned with a nil WKB; the normalizer tallies them.
func (r *Reader) ReadLayer(ctx context.Context, name string) ([]RawFeature, string, error) {
	srs, err := r.SRS(ctx, name)
	if err != nil {
		return nil, "", err
	}

	geomCol, err := r.geometryColumn(ctx, name)
	if err != nil {
		return nil, "", err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %q`, name))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", entities.ErrNoLayer, name)
	}

	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, "", err
	}

	var ans []RawFeature

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range vals {
			ptrs[i] = &vals[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, "", err
		}

		feat := RawFeature{
			Tags: make(map[string]string, len(cols)),
		}

		for i, col := range cols {
			switch {
			case col == geomCol:
				if blob, ok := vals[i].([]byte); ok {
					wkb, _, empty, perr := SplitGeometry(blob)
					if perr == nil && !empty {
						feat.WKB = wkb
					}
				}
			case col == "fid" || col == "id" || col == "osm_id" || col == "osm_way_id":
				if s := asString(vals[i]); s != "" && feat.SourceID == "" {
					feat.SourceID = s
				}
			default:
				if s := asString(vals[i]); s != "" {
					feat.Tags[col] = s
				}
			}
		}

		ans = append(ans, feat)
	}

	return ans, srs, rows.Err()
}

func (r *Reader) geometryColumn(ctx context.Context, layer string) (string, error) {
	var col string

	q := `SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`
	if err := r.db.QueryRowContext(ctx, q, layer).Scan(&col); err != nil {
		return "", fmt.Errorf("%w: %s", entities.ErrNoLayer, layer)
	}

	return col, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
