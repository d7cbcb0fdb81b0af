package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marksort/backend/internal/cancel"
)

// Record is a persisted cluster row.
type Record struct {
	ID       string  `json:"id"`
	UserID   string  `json:"user_id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
	Depth    int     `json:"depth"`
}

type Assignment struct {
	ClusterID  string `json:"cluster_id"`
	BookmarkID string `json:"bookmark_id"`
}

// Store loads clustering input and replaces a user's forest.
type Store interface {
	LoadEmbedded(ctx context.Context, userID string) ([]Item, error)
	ReplaceForest(ctx context.Context, userID string, clusters []Record, assignments []Assignment) error
}

// Vectors resolves content hashes to cached embeddings.
type Vectors interface {
	LookupMany(ctx context.Context, hashes []string) (map[string][]float32, error)
}

type Options struct {
	MaxDepth          int
	MaxIterations     int
	Seed              int64
	NamingTimeout     time.Duration
	NamingConcurrency int
}

type Result struct {
	Items    int `json:"items"`
	Clusters int `json:"clusters"`
	Leaves   int `json:"leaves"`
	Forced   int `json:"forced"`
}

type Engine struct {
	store   Store
	vectors Vectors
	namer   Namer
	cancel  cancel.Checker
	opts    Options
}

// NewEngine wires the engine. namer may be nil, in which case every group gets a heuristic name.
func NewEngine(store Store, vectors Vectors, namer Namer, checker cancel.Checker, opts Options) *Engine {
	if opts.NamingConcurrency <= 0 {
		opts.NamingConcurrency = 4
	}
	return &Engine{store: store, vectors: vectors, namer: namer, cancel: checker, opts: opts}
}

// Run rebuilds the user's forest from their embedded bookmarks.
func (e *Engine) Run(ctx context.Context, userID string, p Profile) (*Result, error) {
	p, err := p.Normalize()
	if err != nil {
		return nil, err
	}
	if e.isCancelled(userID) {
		return nil, ErrCancelled
	}

	items, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	seed := e.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	tree, err := Build(ctx, items, p.Shape(), BuildOptions{
		MaxDepth:      e.opts.MaxDepth,
		MaxIterations: e.opts.MaxIterations,
		Seed:          seed,
		Cancelled:     func() bool { return e.isCancelled(userID) },
	})
	if err != nil {
		return nil, err
	}

	if err := e.nameTree(ctx, tree, p); err != nil {
		return nil, err
	}

	if e.isCancelled(userID) {
		return nil, ErrCancelled
	}

	records, assignments := flatten(tree, userID)
	if err := e.store.ReplaceForest(ctx, userID, records, assignments); err != nil {
		return nil, fmt.Errorf("persist clusters: %w", err)
	}

	res := &Result{Items: len(items), Clusters: len(records)}
	for _, id := range tree.Leaves() {
		res.Leaves++
		if tree.Nodes[id].Forced {
			res.Forced++
		}
	}
	slog.InfoContext(ctx, "clustering complete", "user_id", userID, "items", res.Items, "clusters", res.Clusters, "leaves", res.Leaves, "forced", res.Forced)
	return res, nil
}

// load returns the user's embedded bookmarks with their vectors attached.
// Bookmarks whose vector is missing from the cache are skipped.
func (e *Engine) load(ctx context.Context, userID string) ([]Item, error) {
	items, err := e.store.LoadEmbedded(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load embedded bookmarks: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	hashes := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, it := range items {
		if !seen[it.ContentHash] {
			seen[it.ContentHash] = true
			hashes = append(hashes, it.ContentHash)
		}
	}
	vecs, err := e.vectors.LookupMany(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	out := items[:0]
	missing := 0
	for _, it := range items {
		v, ok := vecs[it.ContentHash]
		if !ok || len(v) == 0 {
			missing++
			continue
		}
		it.Vector = v
		out = append(out, it)
	}
	if missing > 0 {
		slog.WarnContext(ctx, "embedded bookmarks without cached vector", "user_id", userID, "count", missing)
	}
	return out, nil
}

func (e *Engine) isCancelled(userID string) bool {
	return e.cancel != nil && e.cancel.IsCancelled(userID)
}

// nameTree labels every persisted node. Namer calls run concurrently up to
// NamingConcurrency; any namer failure falls back to the heuristic.
func (e *Engine) nameTree(ctx context.Context, t *Tree, p Profile) error {
	var ids []int
	var walk func(id int)
	walk = func(id int) {
		ids = append(ids, id)
		for _, c := range t.Nodes[id].Children {
			walk(c)
		}
	}
	for _, r := range t.Roots() {
		walk(r)
	}

	cache := newNamingCache()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.NamingConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t.Nodes[id].Name = e.name(gctx, t, id, p, cache)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return err
	}

	siblings := [][]int{t.Roots()}
	for _, id := range ids {
		if len(t.Nodes[id].Children) > 0 {
			siblings = append(siblings, t.Nodes[id].Children)
		}
	}
	for _, set := range siblings {
		names := make([]string, len(set))
		for i, id := range set {
			names[i] = t.Nodes[id].Name
		}
		for i, n := range dedupeSiblings(names) {
			t.Nodes[set[i]].Name = n
		}
	}
	return nil
}

func (e *Engine) name(ctx context.Context, t *Tree, id int, p Profile, cache *namingCache) string {
	samples := samplesFor(t.Items, t.Nodes[id].Items, SampleSize)
	size := len(t.Nodes[id].Items)
	return cache.resolve(signature(samples), func() string {
		if n := e.askNamer(ctx, samples, size, p); n != "" {
			return n
		}
		return HeuristicName(samples, p.Tone, p.Mode)
	})
}

// askNamer returns "" when the group is too small, no namer is configured or
// the namer gave nothing usable.
func (e *Engine) askNamer(ctx context.Context, samples []Sample, size int, p Profile) string {
	if e.namer == nil || size < minNamerGroupSize {
		return ""
	}
	if e.opts.NamingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.NamingTimeout)
		defer cancel()
	}
	raw, err := e.namer.Name(ctx, NameRequest{Samples: samples, Tone: p.Tone, Mode: p.Mode})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.WarnContext(ctx, "namer failed, using heuristic", "error", err)
		}
		return ""
	}
	n, ok := ValidateName(raw)
	if !ok {
		slog.DebugContext(ctx, "namer returned unusable name", "name", raw)
		return ""
	}
	return n
}

// flatten assigns ids and orders records parents first.
func flatten(t *Tree, userID string) ([]Record, []Assignment) {
	var records []Record
	var assignments []Assignment

	var walk func(id int, parent *string, depth int)
	walk = func(id int, parent *string, depth int) {
		n := &t.Nodes[id]
		rec := Record{ID: uuid.NewString(), UserID: userID, Name: n.Name, ParentID: parent, Depth: depth}
		records = append(records, rec)
		if n.IsLeaf() {
			for _, idx := range n.Items {
				assignments = append(assignments, Assignment{ClusterID: rec.ID, BookmarkID: t.Items[idx].BookmarkID})
			}
			return
		}
		self := rec.ID
		for _, c := range n.Children {
			walk(c, &self, depth+1)
		}
	}
	for _, r := range t.Roots() {
		walk(r, nil, 0)
	}
	return records, assignments
}
