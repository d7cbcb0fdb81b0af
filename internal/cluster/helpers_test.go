package cluster

import (
	"context"
	"fmt"
	"math/rand"
)

// mapVectors serves vectors keyed by content hash.
type mapVectors map[string][]float32

func (m mapVectors) LookupMany(ctx context.Context, hashes []string) (map[string][]float32, error) {
	out := map[string][]float32{}
	for _, h := range hashes {
		if v, ok := m[h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func vectorsOf(items []Item) mapVectors {
	m := mapVectors{}
	for _, it := range items {
		m[it.ContentHash] = it.Vector
	}
	return m
}

var topics = []struct {
	domain string
	words  []string
}{
	{"golang.org", []string{"go", "goroutines", "channels"}},
	{"cooking.example.com", []string{"pasta", "recipes", "sauce"}},
	{"news.example.net", []string{"election", "politics", "vote"}},
	{"running.example.org", []string{"marathon", "training", "shoes"}},
}

// topicItems returns n items spread round-robin over well separated topics.
func topicItems(n, dim int, seed int64) []Item {
	rng := rand.New(rand.NewSource(seed))
	items := make([]Item, n)
	for i := 0; i < n; i++ {
		t := i % len(topics)
		vec := make([]float32, dim)
		for d := range vec {
			vec[d] = float32(rng.NormFloat64() * 0.01)
		}
		vec[t] += 1
		w := topics[t].words
		items[i] = Item{
			BookmarkID:  fmt.Sprintf("b%02d", i),
			ContentHash: fmt.Sprintf("h%02d", i),
			URL:         fmt.Sprintf("https://%s/%d", topics[t].domain, i),
			Title:       fmt.Sprintf("%s %s %d", w[0], w[1+i%2], i),
			Vector:      vec,
		}
	}
	return items
}

func randomItems(n, dim int, seed int64) []Item {
	rng := rand.New(rand.NewSource(seed))
	items := make([]Item, n)
	for i := range items {
		vec := make([]float32, dim)
		for d := range vec {
			vec[d] = float32(rng.NormFloat64())
		}
		items[i] = Item{BookmarkID: fmt.Sprintf("r%03d", i), URL: fmt.Sprintf("https://site%d.example.com/", i), Title: fmt.Sprintf("page %d", i), Vector: vec}
	}
	return items
}

// ancestors walks parent links and fails on a cycle.
func hasCycle(t *Tree, id int) bool {
	seen := map[int]bool{}
	for id != -1 {
		if seen[id] {
			return true
		}
		seen[id] = true
		id = t.Nodes[id].Parent
	}
	return false
}
