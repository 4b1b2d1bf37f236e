package entities

import (
	"errors"
	"fmt"
	"strings"

	"github.com/twpayne/go-geos"
)

var (
	ErrNoLayer          = errors.New("layer not found in container")
	ErrNoAdminBoundary  = errors.New("no admin boundaries in input")
	ErrEmptyCollection  = errors.New("empty feature collection")
	ErrStageNotCached   = errors.New("stage not cached")
	ErrInvalidThreshold = errors.New("containment threshold must be in (0,1]")
)

// Cache stages for a city, in pipeline order. A cached city resumes at the
// highest stage reached by a previous run.
const (
	StageCityExtracted = "city_extracted"
	StageBoundariesOK  = "boundaries_fixed"
	StageClassified    = "use_type_added"
)

// StageRank orders cache stages; unknown stages rank zero.
func StageRank(stage string) int {
	switch stage {
	case StageCityExtracted:
		return 1
	case StageBoundariesOK:
		return 2
	case StageClassified:
		return 3
	default:
		return 0
	}
}

// Feature is one polygonal record from the source dataset: a geometry in the
// working CRS, its raw OSM tags and a stable source identifier. Features are
// read-only after normalization; the overlay engine re-parses WKB instead of
// sharing Geom across goroutines.
type Feature struct {
	SourceID string
	Tags     map[string]string
	Geom     *geos.Geom
	WKB      []byte
	Class    string
}

// Tag returns the value for key, or "" when absent. OSM exports use the
// literal strings "none" and "null" for empty cells; both count as absent.
func (f *Feature) Tag(key string) string {
	v, ok := f.Tags[key]
	if !ok {
		return ""
	}

	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none", "null":
		return ""
	}

	return v
}

// AreaRecord attributes one land-use class area to one admin node. NodePath
// is the slash-joined name chain from the hierarchy root and is the node's
// identity within a run.
type AreaRecord struct {
	NodePath string  `json:"node_path"`
	NodeName string  `json:"node"`
	Level    int     `json:"level"`
	Depth    int     `json:"depth"`
	Class    string  `json:"class"`
	Group    string  `json:"group"`
	AreaM2   float64 `json:"area_m2"`
}

// RunResult is the sole output of a pipeline run.
type RunResult struct {
	RunID             string       `json:"run_id"`
	City              string       `json:"city"`
	Records           []AreaRecord `json:"records"`
	DiscardedFeatures int          `json:"discarded_features"`
	SkippedFeatures   int          `json:"skipped_features"`
	UnclassifiedArea  float64      `json:"unclassified_area_m2"`
	CityArea          float64      `json:"city_area_m2"`
}

// CRSError is fatal: a feature collection arrived without a usable CRS, or
// the transformation to the working CRS cannot be built.
type CRSError struct {
	CRS string
	Err error
}

func (e *CRSError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crs %q: %v", e.CRS, e.Err)
	}

	return fmt.Sprintf("crs %q: missing or unsupported", e.CRS)
}

func (e *CRSError) Unwrap() error {
	return e.Err
}

// CityNotFoundError is fatal: either no boundary matched the requested name
// at the configured city level, or more than one did. Candidates carries the
// ambiguous matches, Suggestions the closest known names on a total miss.
type CityNotFoundError struct {
	Name        string
	Level       int
	Candidates  []string
	Suggestions []string
}

func (e *CityNotFoundError) Error() string {
	if len(e.Candidates) > 1 {
		return fmt.Sprintf("city %q is ambiguous at admin level %d: %s",
			e.Name, e.Level, strings.Join(e.Candidates, ", "))
	}

	if len(e.Suggestions) > 0 {
		return fmt.Sprintf("city %q not found at admin level %d, did you mean: %s",
			e.Name, e.Level, strings.Join(e.Suggestions, ", "))
	}

	return fmt.Sprintf("city %q not found at admin level %d", e.Name, e.Level)
}
