// Package hierarchy builds the administrative boundary tree of one city from
// flat tagged boundary features: root selection by (name, level), child
// attachment by containment fraction, duplicate-relation merging and an
// optional synthetic remainder leaf for parent area no child covers.
package hierarchy

import (
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/chrisodt/georef/entities"
)

// Node is one administrative unit. Parent is a non-owning back-reference
// used for lookups only; the tree owns nodes through Children.
type Node struct {
	Name      string
	Level     int
	Geom      *geos.Geom
	WKB       []byte
	Area      float64
	Synthetic bool

	Parent   *Node
	Children []*Node
}

// Depth is the number of edges from the root.
func (n *Node) Depth() int {
	d := 0
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}

	return d
}

// Path joins the names from root to this node; it is the node's identity in
// reports and area records.
func (n *Node) Path() string {
	if n.Parent == nil {
		return n.Name
	}

	return n.Parent.Path() + "/" + n.Name
}

func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Config controls tree construction.
type Config struct {
	// CityLevel is the admin level of the requested root, by the OSM
	// boundary tagging convention (8 for German municipalities).
	CityLevel int
	// LevelMap translates raw admin_level tag values to semantic depths.
	// Unmapped values that parse as integers map to themselves.
	LevelMap map[string]int
	// ContainmentThreshold is the minimum fraction of a candidate's own
	// area that must fall inside a parent for attachment.
	ContainmentThreshold float64
	// RemainderName, when non-empty, names the synthetic leaf that absorbs
	// parent area not covered by any child.
	RemainderName string
	// AreaTolerance is the relative tolerance under which residual areas
	// are treated as zero.
	AreaTolerance float64
}

type Builder struct {
	cfg Config
	log *zap.Logger
}

func NewBuilder(cfg Config, log *zap.Logger) (*Builder, error) {
	if cfg.ContainmentThreshold <= 0 || cfg.ContainmentThreshold > 1 {
		return nil, entities.ErrInvalidThreshold
	}

	if cfg.AreaTolerance <= 0 {
		cfg.AreaTolerance = 1e-6
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Builder{cfg: cfg, log: log}, nil
}

type candidate struct {
	name  string
	level int
	geom  *geos.Geom
	area  float64
	used  bool
}

// Build constructs the subtree rooted at the boundary matching city at the
// configured city level. Zero or ambiguous matches fail with
// *entities.CityNotFoundError.
func (b *Builder) Build(city string, admin []entities.Feature) (*Tree, error) {
	cands := b.candidates(admin)
	if len(cands) == 0 {
		return nil, entities.ErrNoAdminBoundary
	}

	root, err := b.pickRoot(city, cands)
	if err != nil {
		return nil, err
	}

	b.attach(root, cands)

	tree := newTree(root)

	b.log.Info("hierarchy built",
		zap.String("city", root.Name),
		zap.Int("level", root.Level),
		zap.Float64("area_m2", root.Area),
		zap.Int("nodes", len(tree.Nodes())),
	)

	return tree, nil
}

func (b *Builder) candidates(admin []entities.Feature) []*candidate {
	var ans []*candidate

	for i := range admin {
		f := &admin[i]

		if f.Tag("boundary") != "administrative" {
			continue
		}

		name := f.Tag("name")
		if name == "" {
			continue
		}

		level, ok := b.level(f.Tag("admin_level"))
		if !ok {
			continue
		}

		ans = append(ans, &candidate{
			name:  name,
			level: level,
			geom:  f.Geom,
			area:  f.Geom.Area(),
		})
	}

	return ans
}

func (b *Builder) level(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}

	if b.cfg.LevelMap != nil {
		if v, ok := b.cfg.LevelMap[raw]; ok {
			return v, true
		}
	}

	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}

	return v, true
}

func (b *Builder) pickRoot(city string, cands []*candidate) (*Node, error) {
	var matches []*candidate

	for _, c := range cands {
		if c.level == b.cfg.CityLevel && strings.EqualFold(c.name, city) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 1:
		matches[0].used = true

		return b.newNode(matches[0].name, matches[0].level, matches[0].geom, false), nil
	case 0:
		return nil, &entities.CityNotFoundError{
			Name:        city,
			Level:       b.cfg.CityLevel,
			Suggestions: suggest(city, cands),
		}
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.name
		}

		return nil, &entities.CityNotFoundError{
			Name:       city,
			Level:      b.cfg.CityLevel,
			Candidates: names,
		}
	}
}

func (b *Builder) newNode(name string, level int, geom *geos.Geom, synthetic bool) *Node {
	return &Node{
		Name:      name,
		Level:     level,
		Geom:      geom,
		WKB:       geom.ToWKB(),
		Area:      geom.Area(),
		Synthetic: synthetic,
	}
}

// attach finds node's children among the unused candidates: the next level
// strictly greater than node's that yields at least one candidate contained
// by the threshold fraction. Deeper levels attach recursively. Qualifying
// levels skipped on the way down are reported, not silently accepted.
func (b *Builder) attach(node *Node, cands []*candidate) {
	levels := openLevels(cands, node.Level)

	var (
		children   []*candidate
		childLevel int
	)

	for i, level := range levels {
		children = b.contained(node, cands, level)
		if len(children) == 0 {
			continue
		}

		childLevel = level

		if i > 0 {
			b.log.Warn("admin level gap under node",
				zap.String("node", node.Path()),
				zap.Ints("skipped_levels", levels[:i]),
				zap.Int("child_level", childLevel),
			)
		}

		break
	}

	if len(children) == 0 {
		return
	}

	for _, group := range mergeByName(children) {
		group.used = true

		geom := group.geom.Intersection(node.Geom)
		if geom.IsEmpty() {
			continue
		}

		child := b.newNode(group.name, childLevel, geom, false)
		child.Parent = node
		node.Children = append(node.Children, child)
	}

	sort.Slice(node.Children, func(i, j int) bool {
		return node.Children[i].Name < node.Children[j].Name
	})

	b.checkSiblingOverlap(node)

	for _, child := range node.Children {
		b.attach(child, cands)
	}

	b.addRemainder(node, childLevel)
}

// contained returns the unused candidates at level whose area of
// intersection with node exceeds the containment fraction of their own area.
func (b *Builder) contained(node *Node, cands []*candidate, level int) []*candidate {
	var ans []*candidate

	for _, c := range cands {
		if c.used || c.level != level || c.area == 0 {
			continue
		}

		if !node.Geom.Intersects(c.geom) {
			continue
		}

		inter := node.Geom.Intersection(c.geom)
		if inter.Area()/c.area >= b.cfg.ContainmentThreshold {
			ans = append(ans, c)
		}
	}

	return ans
}

// mergeByName unions duplicate boundary relations claiming the same
// (name, level) under one parent into a single candidate.
func mergeByName(cands []*candidate) []*candidate {
	byName := make(map[string]*candidate, len(cands))

	var order []string

	for _, c := range cands {
		prev, ok := byName[c.name]
		if !ok {
			byName[c.name] = c
			order = append(order, c.name)

			continue
		}

		c.used = true
		prev.geom = prev.geom.Union(c.geom)
		prev.area = prev.geom.Area()
	}

	sort.Strings(order)

	ans := make([]*candidate, len(order))
	for i, name := range order {
		ans[i] = byName[name]
	}

	return ans
}

func (b *Builder) checkSiblingOverlap(node *Node) {
	slack := 1 - b.cfg.ContainmentThreshold

	for i := 0; i < len(node.Children); i++ {
		for j := i + 1; j < len(node.Children); j++ {
			a, c := node.Children[i], node.Children[j]
			if !a.Geom.Intersects(c.Geom) {
				continue
			}

			inter := a.Geom.Intersection(c.Geom).Area()

			smaller := a.Area
			if c.Area < smaller {
				smaller = c.Area
			}

			if smaller > 0 && inter/smaller > slack {
				b.log.Warn("sibling boundaries overlap beyond tolerance",
					zap.String("node", node.Path()),
					zap.String("a", a.Name),
					zap.String("b", c.Name),
					zap.Float64("overlap_m2", inter),
				)
			}
		}
	}
}

// addRemainder attaches a synthetic leaf covering the part of node no child
// covers, when that residue is more than noise. With the remainder disabled
// the residue stays attributed to node directly by the overlay engine.
func (b *Builder) addRemainder(node *Node, childLevel int) {
	if b.cfg.RemainderName == "" || len(node.Children) == 0 {
		return
	}

	covered := node.Children[0].Geom
	for _, child := range node.Children[1:] {
		covered = covered.Union(child.Geom)
	}

	residue := node.Geom.Difference(covered)
	if residue.IsEmpty() || residue.Area() <= b.cfg.AreaTolerance*node.Area {
		return
	}

	rest := b.newNode(b.cfg.RemainderName, childLevel, residue, true)
	rest.Parent = node
	node.Children = append(node.Children, rest)

	b.log.Debug("added remainder leaf",
		zap.String("node", node.Path()),
		zap.Float64("area_m2", rest.Area),
	)
}

func openLevels(cands []*candidate, above int) []int {
	seen := make(map[int]bool)

	var ans []int

	for _, c := range cands {
		if !c.used && c.level > above && !seen[c.level] {
			seen[c.level] = true

			ans = append(ans, c.level)
		}
	}

	sort.Ints(ans)

	return ans
}

// suggest returns the two known boundary names closest to miss by edit
// distance, case folded.
func suggest(miss string, cands []*candidate) []string {
	seen := make(map[string]bool)

	var names []string

	for _, c := range cands {
		if !seen[c.name] {
			seen[c.name] = true

			names = append(names, c.name)
		}
	}

	lower := strings.ToLower(miss)

	sort.Slice(names, func(i, j int) bool {
		di := fuzzy.LevenshteinDistance(lower, strings.ToLower(names[i]))
		dj := fuzzy.LevenshteinDistance(lower, strings.ToLower(names[j]))

		if di != dj {
			return di < dj
		}

		return names[i] < names[j]
	})

	if len(names) > 2 {
		names = names[:2]
	}

	return names
}
