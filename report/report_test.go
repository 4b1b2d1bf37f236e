package report_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chrisodt/georef/classify"
	"github.com/chrisodt/georef/entities"
	"github.com/chrisodt/georef/report"
)

func sampleRecords() []entities.AreaRecord {
	return []entities.AreaRecord{
		{NodePath: "City/West", NodeName: "West", Level: 9, Depth: 1, Class: "forest", Group: "green", AreaM2: 100},
		{NodePath: "City", NodeName: "City", Level: 8, Depth: 0, Class: "residential", Group: "built_up", AreaM2: 500},
		{NodePath: "City/West", NodeName: "West", Level: 9, Depth: 1, Class: "forest", Group: "green", AreaM2: 50},
		{NodePath: "City/Ost", NodeName: "Ost", Level: 9, Depth: 1, Class: "water", Group: "water", AreaM2: 25},
	}
}

func TestAssembleFoldsAndSorts(t *testing.T) {
	t.Parallel()

	got := report.Assemble(sampleRecords())
	require.Len(t, got, 3)

	// depth first, then node name, then class
	require.Equal(t, "City", got[0].NodePath)
	require.Equal(t, "City/Ost", got[1].NodePath)
	require.Equal(t, "City/West", got[2].NodePath)

	// the two West/forest rows folded into one
	require.InDelta(t, 150.0, got[2].AreaM2, 1e-9)
}

func TestAssembleDeterministic(t *testing.T) {
	t.Parallel()

	a := report.Assemble(sampleRecords())

	shuffled := sampleRecords()
	shuffled[0], shuffled[3] = shuffled[3], shuffled[0]

	b := report.Assemble(shuffled)
	require.Equal(t, a, b)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.WriteCSV(&buf, report.Assemble(sampleRecords())))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, []string{"node_path", "node", "level", "depth", "class", "group", "area_m2"}, rows[0])
	require.Equal(t, []string{"City", "City", "8", "0", "residential", "built_up", "500.00"}, rows[1])
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	res := entities.RunResult{
		RunID:    "r1",
		City:     "City",
		Records:  report.Assemble(sampleRecords()),
		CityArea: 10000,
	}

	var buf bytes.Buffer

	require.NoError(t, report.WriteJSON(&buf, &res))

	var got entities.RunResult

	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, res.RunID, got.RunID)
	require.Len(t, got.Records, 3)
	require.InDelta(t, res.CityArea, got.CityArea, 1e-9)
}

func TestWriteWideCSV(t *testing.T) {
	t.Parallel()

	c, err := classify.New(classify.DefaultRules())
	require.NoError(t, err)

	res := entities.RunResult{
		City: "City",
		Records: report.Assemble([]entities.AreaRecord{
			{NodePath: "City/West", NodeName: "West", Level: 9, Depth: 1, Class: classify.ClassForest, Group: classify.GroupGreen, AreaM2: 2500},
			{NodePath: "City/West", NodeName: "West", Level: 9, Depth: 1, Class: classify.ClassResidential, Group: classify.GroupBuiltUp, AreaM2: 2500},
		}),
		CityArea: 10000,
	}

	var buf bytes.Buffer

	require.NoError(t, report.WriteWideCSV(&buf, &res, c.Classes()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header, all row, one node row

	header := rows[0]
	require.Equal(t, "name", header[0])
	require.Contains(t, header, classify.ClassForest)
	require.Contains(t, header, classify.GroupGreen+"_total")
	require.Contains(t, header, "total_area")
	require.Contains(t, header, classify.ClassForest+"_pct")

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}

		t.Fatalf("missing column %s", name)

		return -1
	}

	all := rows[1]
	require.Equal(t, "all (City)", all[0])
	require.Equal(t, "2500.00", all[col(classify.ClassForest)])
	// the all row measures against the full city area
	require.Equal(t, "10000.00", all[col("total_area")])
	require.Equal(t, "25.00", all[col(classify.ClassForest+"_pct")])

	west := rows[2]
	require.Equal(t, "City/West", west[0])
	require.Equal(t, "5000.00", west[col("total_area")])
	require.Equal(t, "50.00", west[col(classify.ClassForest+"_pct")])
	require.Equal(t, "2500.00", west[col(classify.GroupGreen+"_total")])
	require.Equal(t, "0.00", west[col(classify.ClassWater)])
}

func TestWriteWideCSVPercentagesRounded(t *testing.T) {
	t.Parallel()

	c, err := classify.New(classify.DefaultRules())
	require.NoError(t, err)

	res := entities.RunResult{
		City: "City",
		Records: []entities.AreaRecord{
			{NodePath: "City", NodeName: "City", Class: classify.ClassForest, Group: classify.GroupGreen, AreaM2: 1},
			{NodePath: "City", NodeName: "City", Class: classify.ClassWater, Group: classify.GroupWater, AreaM2: 2},
		},
	}

	var buf bytes.Buffer

	require.NoError(t, report.WriteWideCSV(&buf, &res, c.Classes()))

	out := buf.String()
	require.Contains(t, out, "33.33")
	require.Contains(t, out, "66.67")
	require.False(t, strings.Contains(out, "33.333"))
}
