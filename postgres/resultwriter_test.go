package postgres_test

import (
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/postgres"
	"github.com/chrisodt/georef/testcontainers"
)

func TestResultWriter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	testcontainers.WithTestContext(t, func(tc *testcontainers.TestContext) {
		db, err := sql.Open("pgx", tc.DSN())
		require.NoError(t, err)

		defer db.Close()

		writer := postgres.NewResultWriter(db)

		require.NoError(t, writer.CreateSchema(tc.Ctx()))
		// idempotent
		require.NoError(t, writer.CreateSchema(tc.Ctx()))

		res := entities.RunResult{
			RunID: "run-1",
			City:  "Musterstadt",
			Records: []entities.AreaRecord{
				{NodePath: "Musterstadt/West", NodeName: "West", Level: 9, Depth: 1, Class: "forest", Group: "green", AreaM2: 1234.56},
				{NodePath: "Musterstadt/Ost", NodeName: "Ost", Level: 9, Depth: 1, Class: "water", Group: "water", AreaM2: 78.9},
			},
			DiscardedFeatures: 3,
			SkippedFeatures:   1,
			UnclassifiedArea:  10.5,
			CityArea:          10000,
		}

		require.NoError(t, writer.Save(tc.Ctx(), &res))

		var count int

		err = tc.DB.QueryRow(tc.Ctx(),
			`SELECT COUNT(*) FROM area_records WHERE run_id = $1`, res.RunID).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		var (
			city string
			area float64
		)

		err = tc.DB.QueryRow(tc.Ctx(),
			`SELECT city, city_area FROM runs WHERE run_id = $1`, res.RunID).Scan(&city, &area)
		require.NoError(t, err)
		require.Equal(t, "Musterstadt", city)
		require.InDelta(t, 10000.0, area, 1e-6)

		var got float64

		err = tc.DB.QueryRow(tc.Ctx(),
			`SELECT area_m2 FROM area_records WHERE run_id = $1 AND node_path = $2`,
			res.RunID, "Musterstadt/West").Scan(&got)
		require.NoError(t, err)
		require.InDelta(t, 1234.56, got, 1e-9)
	})
}
