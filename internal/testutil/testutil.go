// Package testutil holds geometry and container fixtures shared by tests.
package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/twpayne/go-geos"
	_ "modernc.org/sqlite"

	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/gpkg"
)

// Rect builds an axis-aligned rectangle polygon.
func Rect(gctx *geos.Context, minX, minY, maxX, maxY float64) *geos.Geom {
	ring := [][]float64{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
		{minX, minY},
	}

	return gctx.NewPolygon([][][]float64{ring})
}

// Square builds a size×size square with its lower-left corner at (x, y).
func Square(gctx *geos.Context, x, y, size float64) *geos.Geom {
	return Rect(gctx, x, y, x+size, y+size)
}

// Feature wraps a geometry into an entities.Feature with its WKB filled in.
func Feature(id string, geom *geos.Geom, tags map[string]string) entities.Feature {
	if tags == nil {
		tags = map[string]string{}
	}

	return entities.Feature{
		SourceID: id,
		Tags:     tags,
		Geom:     geom,
		WKB:      geom.ToWKB(),
	}
}

// AdminTags builds the tag set of an administrative boundary feature.
func AdminTags(name string, level int) map[string]string {
	return map[string]string{
		"boundary":    "administrative",
		"name":        name,
		"admin_level": fmt.Sprintf("%d", level),
	}
}

// GPKGRow is one feature row for a fixture container: bare WKB plus tag
// columns.
type GPKGRow struct {
	FID  int64
	WKB  []byte
	Tags map[string]string
}

// WriteGPKG creates a minimal GeoPackage in t's temp dir with a single
// feature layer and returns its path. The tag columns of the layer are the
// union of the rows' tag keys.
func WriteGPKG(t *testing.T, layer string, srsOrg string, srsCode int, rows []GPKGRow) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.gpkg")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture container: %v", err)
	}

	defer db.Close()

	const srsID = 100000

	stmts := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME,
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			PRIMARY KEY (table_name, column_name)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture schema: %v", err)
		}
	}

	_, err = db.Exec(
		`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, 'undefined', NULL)`,
		fmt.Sprintf("%s:%d", srsOrg, srsCode), srsID, srsOrg, srsCode,
	)
	if err != nil {
		t.Fatalf("fixture srs: %v", err)
	}

	_, err = db.Exec(
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`,
		layer, layer, srsID,
	)
	if err != nil {
		t.Fatalf("fixture contents: %v", err)
	}

	_, err = db.Exec(
		`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', 'MULTIPOLYGON', ?, 0, 0)`,
		layer, srsID,
	)
	if err != nil {
		t.Fatalf("fixture geometry columns: %v", err)
	}

	cols := tagColumns(rows)

	ddl := fmt.Sprintf(`CREATE TABLE %q (fid INTEGER PRIMARY KEY, geom BLOB`, layer)
	for _, col := range cols {
		ddl += fmt.Sprintf(`, %q TEXT`, col)
	}

	ddl += ")"

	if _, err := db.Exec(ddl); err != nil {
		t.Fatalf("fixture layer: %v", err)
	}

	insert := fmt.Sprintf(`INSERT INTO %q VALUES (?, ?`, layer)
	for range cols {
		insert += ", ?"
	}

	insert += ")"

	for _, row := range rows {
		args := []any{row.FID, gpkg.WrapGeometry(row.WKB, srsID)}

		for _, col := range cols {
			if v, ok := row.Tags[col]; ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}

		if _, err := db.Exec(insert, args...); err != nil {
			t.Fatalf("fixture row %d: %v", row.FID, err)
		}
	}

	return path
}

func tagColumns(rows []GPKGRow) []string {
	set := make(map[string]struct{})

	for _, row := range rows {
		for k := range row.Tags {
			set[k] = struct{}{}
		}
	}

	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}

	sort.Strings(cols)

	return cols
}
