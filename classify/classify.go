// Package classify maps raw OSM tags to a fixed two-level land-use taxonomy.
// The mapping is a priority-ordered rule table, first match wins; anything
// unmatched lands in the "unclassified" leaf instead of being dropped. The
// table is data, so adding a class is a table edit, not a new type.
package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/chrisodt/georef/entities"
)

// Class is a leaf of the land-use taxonomy; Group is its parent.
type Class struct {
	ID    string `json:"id"`
	Group string `json:"group"`
}

const (
	// groups
	GroupBuiltUp      = "built_up"
	GroupGreen        = "green"
	GroupWater        = "water"
	GroupSpecialUse   = "special_use"
	GroupUnclassified = "unclassified"

	// leaves
	ClassResidential  = "residential"
	ClassEconomic     = "economic"
	ClassBuildingOnly = "building_only"
	ClassForest       = "forest"
	ClassAgricultural = "agricultural"
	ClassUrbanGreen   = "urban_green"
	ClassWater        = "water"
	ClassSpecialUse   = "special_use"
	ClassUnclassified = "unclassified"
)

// Rule matches one tag key against an optional value set or substring.
// An empty Values list with an empty Contains matches any non-empty value.
type Rule struct {
	Key      string   `json:"key"`
	Values   []string `json:"values,omitempty"`
	Contains string   `json:"contains,omitempty"`
	Class    string   `json:"class"`
}

func (r *Rule) matches(f *entities.Feature) bool {
	v := f.Tag(r.Key)
	if v == "" {
		return false
	}

	if r.Contains != "" {
		return strings.Contains(v, r.Contains)
	}

	if len(r.Values) == 0 {
		return true
	}

	for _, want := range r.Values {
		if v == want {
			return true
		}
	}

	return false
}

type Classifier struct {
	rules   []Rule
	classes map[string]Class
	order   []Class
}

// New builds a classifier from an ordered rule list. Every rule must target
// a known leaf class.
func New(rules []Rule) (*Classifier, error) {
	ans := Classifier{
		rules:   rules,
		classes: make(map[string]Class, len(Taxonomy)),
		order:   Taxonomy,
	}

	for _, c := range Taxonomy {
		ans.classes[c.ID] = c
	}

	for i, r := range rules {
		if _, ok := ans.classes[r.Class]; !ok {
			return nil, fmt.Errorf("rule %d targets unknown class %q", i, r.Class)
		}
	}

	return &ans, nil
}

// Classify returns the leaf class for a feature's tags. A miss is not an
// error; it maps to the unclassified leaf.
func (c *Classifier) Classify(f *entities.Feature) Class {
	for i := range c.rules {
		if c.rules[i].matches(f) {
			return c.classes[c.rules[i].Class]
		}
	}

	return c.classes[ClassUnclassified]
}

// Class resolves a leaf id; unknown ids resolve to unclassified so stale
// cache rows cannot poison a run.
func (c *Classifier) Class(id string) Class {
	if cl, ok := c.classes[id]; ok {
		return cl
	}

	return c.classes[ClassUnclassified]
}

// Classes returns the taxonomy leaves in report column order.
func (c *Classifier) Classes() []Class {
	return c.order
}

// Taxonomy is the fixed classification tree. Order is the report column
// order and mirrors the rule priority: special uses first, unclassified last.
var Taxonomy = []Class{
	{ID: ClassSpecialUse, Group: GroupSpecialUse},
	{ID: ClassEconomic, Group: GroupBuiltUp},
	{ID: ClassResidential, Group: GroupBuiltUp},
	{ID: ClassBuildingOnly, Group: GroupBuiltUp},
	{ID: ClassForest, Group: GroupGreen},
	{ID: ClassAgricultural, Group: GroupGreen},
	{ID: ClassUrbanGreen, Group: GroupGreen},
	{ID: ClassWater, Group: GroupWater},
	{ID: ClassUnclassified, Group: GroupUnclassified},
}

// DefaultRules reproduces the OSM tagging conventions for German extracts:
// amenities, public transport, tourism and cemeteries are special uses;
// parks stay green even though they are leisure; economic landuses beat
// residential; bare buildings only count when nothing else matched.
func DefaultRules() []Rule {
	return []Rule{
		{Key: "amenity", Class: ClassSpecialUse},
		{Key: "public_transport", Class: ClassSpecialUse},
		{Key: "tourism", Class: ClassSpecialUse},
		{Key: "landuse", Values: []string{"cemetery"}, Class: ClassSpecialUse},
		{Key: "leisure", Values: []string{"park", "garden", "nature_reserve"}, Class: ClassUrbanGreen},
		{Key: "leisure", Class: ClassSpecialUse},
		{Key: "landuse", Values: []string{"industrial", "commercial", "retail", "construction", "farmyard"}, Class: ClassEconomic},
		{Key: "landuse", Values: []string{"residential"}, Class: ClassResidential},
		{Key: "natural", Values: []string{"wood"}, Class: ClassForest},
		{Key: "landuse", Values: []string{"forest"}, Class: ClassForest},
		{Key: "landuse", Values: []string{"farmland", "meadow", "allotments"}, Class: ClassAgricultural},
		{Key: "natural", Values: []string{"grassland", "heath", "scrub", "wetland"}, Class: ClassUrbanGreen},
		{Key: "landuse", Values: []string{"grass", "recreation_ground", "village_green"}, Class: ClassUrbanGreen},
		{Key: "building", Class: ClassBuildingOnly},
		{Key: "natural", Values: []string{"water"}, Class: ClassWater},
		{Key: "water", Class: ClassWater},
		{Key: "other_tags", Contains: "water", Class: ClassWater},
	}
}

// LoadRules reads an ordered rule table from a JSON file, replacing the
// compiled-in defaults.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}

	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}

	if len(rules) == 0 {
		return nil, fmt.Errorf("rules %s: empty table", path)
	}

	return rules, nil
}
