// Package listrunner prints the administrative boundaries present in an
// extract, so users can find the exact name and level to pass to a stats run.
package listrunner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/chrisodt/georef/gpkg"
	"github.com/chrisodt/georef/runner"
)

type listRunner struct {
	cfg *runner.Config
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeList {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	return &listRunner{cfg: cfg}, nil
}

func (r *listRunner) Run(ctx context.Context) error {
	reader, err := gpkg.Open(r.cfg.InputFile)
	if err != nil {
		return err
	}

	defer reader.Close()

	raw, _, err := reader.ReadLayer(ctx, r.cfg.Layer)
	if err != nil {
		return err
	}

	type boundary struct {
		name  string
		level int
	}

	seen := make(map[boundary]struct{})

	var boundaries []boundary

	for i := range raw {
		if tagValue(raw[i].Tags, "boundary") != "administrative" {
			continue
		}

		name := tagValue(raw[i].Tags, "name")
		if name == "" {
			continue
		}

		level, err := strconv.Atoi(tagValue(raw[i].Tags, "admin_level"))
		if err != nil {
			continue
		}

		b := boundary{name: name, level: level}
		if _, ok := seen[b]; ok {
			continue
		}

		seen[b] = struct{}{}

		boundaries = append(boundaries, b)
	}

	sort.Slice(boundaries, func(i, j int) bool {
		if boundaries[i].level != boundaries[j].level {
			return boundaries[i].level < boundaries[j].level
		}

		return boundaries[i].name < boundaries[j].name
	})

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "LEVEL\tNAME")

	for _, b := range boundaries {
		fmt.Fprintf(tw, "%d\t%s\n", b.level, b.name)
	}

	return tw.Flush()
}

// tagValue mirrors the feature tag convention: the ogr2ogr export writes
// literal "none"/"null" strings for absent tags.
func tagValue(tags map[string]string, key string) string {
	v := tags[key]
	if v == "none" || v == "null" {
		return ""
	}

	return v
}

func (r *listRunner) Close(context.Context) error {
	return nil
}
