// Package report folds the overlay's AreaRecord multiset into deterministic
// tabular output: a long table (one row per node and class), a wide
// per-node statistics table with percentage columns, and JSON.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/chrisodt/georef/classify"
	"github.com/chrisodt/georef/entities"
)

// Assemble folds records by (node path, class), summing areas for identical
// keys, and sorts by hierarchy depth, then node name, then class name. Two
// runs over identical input produce byte-identical output downstream.
func Assemble(records []entities.AreaRecord) []entities.AreaRecord {
	type key struct {
		path  string
		class string
	}

	folded := make(map[key]entities.AreaRecord, len(records))

	for _, rec := range records {
		k := key{path: rec.NodePath, class: rec.Class}

		if prev, ok := folded[k]; ok {
			prev.AreaM2 += rec.AreaM2
			folded[k] = prev
		} else {
			folded[k] = rec
		}
	}

	ans := make([]entities.AreaRecord, 0, len(folded))
	for _, rec := range folded {
		ans = append(ans, rec)
	}

	sort.Slice(ans, func(i, j int) bool {
		if ans[i].Depth != ans[j].Depth {
			return ans[i].Depth < ans[j].Depth
		}

		if ans[i].NodeName != ans[j].NodeName {
			return ans[i].NodeName < ans[j].NodeName
		}

		return ans[i].Class < ans[j].Class
	})

	return ans
}

// WriteCSV writes the long table: one row per (node, class) record.
func WriteCSV(w io.Writer, records []entities.AreaRecord) error {
	cw := csv.NewWriter(w)

	header := []string{"node_path", "node", "level", "depth", "class", "group", "area_m2"}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.NodePath,
			rec.NodeName,
			strconv.Itoa(rec.Level),
			strconv.Itoa(rec.Depth),
			rec.Class,
			rec.Group,
			formatArea(rec.AreaM2),
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

// WriteJSON writes the whole run result as one JSON document.
func WriteJSON(w io.Writer, res *entities.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(res)
}

// WriteWideCSV writes one row per admin node with a column per leaf class,
// per-group subtotals, a total and percentage columns rounded to two
// decimals, headed by an "all (<city>)" roll-up row over the whole tree.
// Records must already be assembled.
func WriteWideCSV(w io.Writer, res *entities.RunResult, classes []classify.Class) error {
	cw := csv.NewWriter(w)

	groups := groupOrder(classes)

	header := []string{"name"}
	for _, c := range classes {
		header = append(header, c.ID)
	}

	for _, g := range groups {
		header = append(header, g+"_total")
	}

	header = append(header, "total_area")

	for _, c := range classes {
		header = append(header, c.ID+"_pct")
	}

	if err := cw.Write(header); err != nil {
		return err
	}

	byNode := make(map[string]map[string]float64)

	var order []string

	all := make(map[string]float64)

	for _, rec := range res.Records {
		if _, ok := byNode[rec.NodePath]; !ok {
			byNode[rec.NodePath] = make(map[string]float64)
			order = append(order, rec.NodePath)
		}

		byNode[rec.NodePath][rec.Class] += rec.AreaM2
		all[rec.Class] += rec.AreaM2
	}

	allTotal := res.CityArea
	if allTotal == 0 {
		for _, v := range all {
			allTotal += v
		}
	}

	if err := cw.Write(wideRow(fmt.Sprintf("all (%s)", res.City), all, allTotal, classes, groups)); err != nil {
		return err
	}

	for _, path := range order {
		areas := byNode[path]

		total := 0.0
		for _, v := range areas {
			total += v
		}

		if err := cw.Write(wideRow(path, areas, total, classes, groups)); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

func wideRow(name string, areas map[string]float64, total float64, classes []classify.Class, groups []string) []string {
	row := []string{name}

	groupTotals := make(map[string]float64, len(groups))

	for _, c := range classes {
		row = append(row, formatArea(areas[c.ID]))
		groupTotals[c.Group] += areas[c.ID]
	}

	for _, g := range groups {
		row = append(row, formatArea(groupTotals[g]))
	}

	row = append(row, formatArea(total))

	for _, c := range classes {
		pct := 0.0
		if total > 0 {
			pct = areas[c.ID] / total * 100
		}

		row = append(row, strconv.FormatFloat(pct, 'f', 2, 64))
	}

	return row
}

func groupOrder(classes []classify.Class) []string {
	seen := make(map[string]bool, len(classes))

	var ans []string

	for _, c := range classes {
		if !seen[c.Group] {
			seen[c.Group] = true

			ans = append(ans, c.Group)
		}
	}

	return ans
}

func formatArea(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
