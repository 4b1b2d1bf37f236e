package classify_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chrisodt/georef/classify"
	"github.com/chrisodt/georef/entities"
)

func feature(tags map[string]string) *entities.Feature {
	return &entities.Feature{Tags: tags}
}

func TestClassifyDefaultRules(t *testing.T) {
	t.Parallel()

	c, err := classify.New(classify.DefaultRules())
	require.NoError(t, err)

	cases := []struct {
		name string
		tags map[string]string
		want string
	}{
		{
			name: "amenity beats landuse",
			tags: map[string]string{"amenity": "school", "landuse": "residential"},
			want: classify.ClassSpecialUse,
		},
		{
			name: "park is green despite leisure",
			tags: map[string]string{"leisure": "park"},
			want: classify.ClassUrbanGreen,
		},
		{
			name: "other leisure is special use",
			tags: map[string]string{"leisure": "sports_centre"},
			want: classify.ClassSpecialUse,
		},
		{
			name: "industrial is economic",
			tags: map[string]string{"landuse": "industrial"},
			want: classify.ClassEconomic,
		},
		{
			name: "residential",
			tags: map[string]string{"landuse": "residential"},
			want: classify.ClassResidential,
		},
		{
			name: "economic beats residential on priority",
			tags: map[string]string{"landuse": "commercial"},
			want: classify.ClassEconomic,
		},
		{
			name: "wood is forest",
			tags: map[string]string{"natural": "wood"},
			want: classify.ClassForest,
		},
		{
			name: "bare building only when nothing else matched",
			tags: map[string]string{"building": "yes"},
			want: classify.ClassBuildingOnly,
		},
		{
			name: "building under residential landuse stays residential",
			tags: map[string]string{"building": "yes", "landuse": "residential"},
			want: classify.ClassResidential,
		},
		{
			name: "water via substring in other_tags",
			tags: map[string]string{"other_tags": `"waterway"=>"riverbank"`},
			want: classify.ClassWater,
		},
		{
			name: "cemetery is special use not green",
			tags: map[string]string{"landuse": "cemetery"},
			want: classify.ClassSpecialUse,
		},
		{
			name: "no match lands in unclassified",
			tags: map[string]string{"highway": "residential"},
			want: classify.ClassUnclassified,
		},
		{
			name: "none literal counts as absent",
			tags: map[string]string{"amenity": "none", "landuse": "forest"},
			want: classify.ClassForest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := c.Classify(feature(tc.tags))
			require.Equal(t, tc.want, got.ID)
		})
	}
}

func TestClassifyGroupAssignment(t *testing.T) {
	t.Parallel()

	c, err := classify.New(classify.DefaultRules())
	require.NoError(t, err)

	require.Equal(t, classify.GroupBuiltUp, c.Class(classify.ClassResidential).Group)
	require.Equal(t, classify.GroupGreen, c.Class(classify.ClassForest).Group)
	require.Equal(t, classify.GroupWater, c.Class(classify.ClassWater).Group)
	require.Equal(t, classify.GroupUnclassified, c.Class("stale_cache_value").Group)
}

func TestNewRejectsUnknownClass(t *testing.T) {
	t.Parallel()

	_, err := classify.New([]classify.Rule{{Key: "landuse", Class: "parking_lot"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "parking_lot")
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.json")
	data := `[{"key":"landuse","values":["residential"],"class":"residential"}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rules, err := classify.LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, classify.ClassResidential, rules[0].Class)

	_, err = classify.LoadRules(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o644))

	_, err = classify.LoadRules(empty)
	require.Error(t, err)
}

func TestTaxonomyEndsWithUnclassified(t *testing.T) {
	t.Parallel()

	c, err := classify.New(classify.DefaultRules())
	require.NoError(t, err)

	classes := c.Classes()
	require.NotEmpty(t, classes)
	require.Equal(t, classify.ClassUnclassified, classes[len(classes)-1].ID)
}
