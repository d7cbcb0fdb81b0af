package cluster

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
)

var ErrCancelled = errors.New("clustering cancelled")

const (
	DefaultMaxDepth      = 6
	DefaultMaxIterations = 25
)

// Item is one embedded bookmark fed to the engine.
type Item struct {
	BookmarkID  string
	URL         string
	Title       string
	Description string
	ContentHash string
	Vector      []float32
}

// Node is an arena entry. Children and Items hold indices into Tree.Nodes and Tree.Items.
type Node struct {
	Parent   int
	Depth    int
	Items    []int
	Children []int
	Forced   bool
	Deleted  bool
	Name     string
}

func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

type Tree struct {
	Items []Item
	Nodes []Node
}

// Roots returns the nodes persisted without a parent. A split root is not
// persisted itself; its children become the roots of the forest.
func (t *Tree) Roots() []int {
	if len(t.Nodes) == 0 {
		return nil
	}
	if t.Nodes[0].IsLeaf() {
		return []int{0}
	}
	return t.Nodes[0].Children
}

// Leaves returns every live leaf reachable from the roots.
func (t *Tree) Leaves() []int {
	var out []int
	var walk func(id int)
	walk = func(id int) {
		n := &t.Nodes[id]
		if n.IsLeaf() {
			out = append(out, id)
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, r := range t.Roots() {
		walk(r)
	}
	return out
}

type BuildOptions struct {
	MaxDepth      int
	MaxIterations int
	Seed          int64
	// Cancelled is polled at the start of every split.
	Cancelled func() bool
}

type builder struct {
	tree    *Tree
	shape   Shape
	opts    BuildOptions
	rng     *rand.Rand
	vectors [][]float32
}

// Build recursively splits items into a tree bounded by shape.
func Build(ctx context.Context, items []Item, shape Shape, opts BuildOptions) (*Tree, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if shape.TargetLeafSize <= 0 {
		shape = shapes[DensityMedium]
	}

	t := &Tree{Items: items}
	if len(items) == 0 {
		return t, nil
	}

	b := &builder{
		tree:    t,
		shape:   shape,
		opts:    opts,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		vectors: make([][]float32, len(items)),
	}
	for i, it := range items {
		b.vectors[i] = normalize(it.Vector)
	}

	all := make([]int, len(items))
	for i := range all {
		all[i] = i
	}
	t.Nodes = append(t.Nodes, Node{Parent: -1, Items: all})

	if err := b.split(ctx, 0); err != nil {
		return nil, err
	}
	return t, nil
}

func (b *builder) cancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if b.opts.Cancelled != nil && b.opts.Cancelled() {
		return ErrCancelled
	}
	return nil
}

func (b *builder) split(ctx context.Context, id int) error {
	if err := b.cancelled(ctx); err != nil {
		return err
	}

	items := b.tree.Nodes[id].Items
	depth := b.tree.Nodes[id].Depth
	if len(items) <= b.shape.TargetLeafSize {
		return nil
	}
	if depth >= b.opts.MaxDepth {
		b.tree.Nodes[id].Forced = true
		return nil
	}

	vecs := make([][]float32, len(items))
	for i, idx := range items {
		vecs[i] = b.vectors[idx]
	}
	if identical(vecs) {
		b.tree.Nodes[id].Forced = true
		return nil
	}

	k := (len(items) + b.shape.TargetLeafSize - 1) / b.shape.TargetLeafSize
	k = max(k, 2)
	k = min(k, b.shape.MaxChildren, len(items))

	assign, err := kmeans(ctx, vecs, k, b.opts.MaxIterations, b.rng)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		slog.WarnContext(ctx, "split failed, forcing leaf", "node", id, "items", len(items), "error", err)
		b.tree.Nodes[id].Forced = true
		return nil
	}

	groups := make([][]int, k)
	for i, g := range assign {
		groups[g] = append(groups[g], items[i])
	}
	first := len(b.tree.Nodes)
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		b.tree.Nodes = append(b.tree.Nodes, Node{Parent: id, Depth: depth + 1, Items: g})
	}
	children := make([]int, 0, len(b.tree.Nodes)-first)
	for c := first; c < len(b.tree.Nodes); c++ {
		children = append(children, c)
	}

	survivors := b.rebalance(children)
	if len(survivors) <= 1 {
		for _, c := range survivors {
			b.tree.Nodes[c].Deleted = true
		}
		b.tree.Nodes[id].Forced = true
		return nil
	}
	b.tree.Nodes[id].Children = survivors

	for _, c := range survivors {
		if err := b.split(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// rebalance merges children smaller than MinChildSize into the largest sibling,
// marking merged entries deleted. It returns the surviving children, largest first.
func (b *builder) rebalance(children []int) []int {
	nodes := b.tree.Nodes
	sort.SliceStable(children, func(i, j int) bool {
		return len(nodes[children[i]].Items) > len(nodes[children[j]].Items)
	})

	largest := children[0]
	survivors := []int{largest}
	for _, c := range children[1:] {
		if len(nodes[c].Items) >= b.shape.MinChildSize {
			survivors = append(survivors, c)
			continue
		}
		nodes[largest].Items = append(nodes[largest].Items, nodes[c].Items...)
		nodes[c].Items = nil
		nodes[c].Deleted = true
	}
	return survivors
}
