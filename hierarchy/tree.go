package hierarchy

import (
	"github.com/tidwall/rtree"
	"github.com/twpayne/go-geos"
)

// Tree is the built hierarchy plus an R-tree over node bounding boxes. The
// index is immutable after construction and safe to share across overlay
// workers.
type Tree struct {
	root  *Node
	nodes []*Node
	index rtree.RTreeG[*Node]
}

func newTree(root *Node) *Tree {
	ans := Tree{root: root}
	ans.walk(root)

	return &ans
}

func (t *Tree) walk(n *Node) {
	t.nodes = append(t.nodes, n)

	bounds := n.Geom.Bounds()
	t.index.Insert(
		[2]float64{bounds.MinX, bounds.MinY},
		[2]float64{bounds.MaxX, bounds.MaxY},
		n,
	)

	for _, child := range n.Children {
		t.walk(child)
	}
}

func (t *Tree) Root() *Node {
	return t.root
}

// Nodes returns every node in preorder.
func (t *Tree) Nodes() []*Node {
	return t.nodes
}

// Search visits every node whose bounding box intersects bounds; return
// false from fn to stop early.
func (t *Tree) Search(bounds *geos.Box2D, fn func(*Node) bool) {
	t.index.Search(
		[2]float64{bounds.MinX, bounds.MinY},
		[2]float64{bounds.MaxX, bounds.MaxY},
		func(_, _ [2]float64, n *Node) bool {
			return fn(n)
		},
	)
}
