package complete

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"
)

const (
	trigramDims = 256
	// searchBreadth is the minimum number of graph neighbours reranked.
	searchBreadth = 64
	// maxFuzzyDistance is the largest cosine distance still offered.
	maxFuzzyDistance = 0.55
)

// fuzzyIndex finds identifiers that are spelled like a query. Names are
// embedded as hashed character trigram counts and searched in an HNSW graph;
// the neighbours found are reranked by exact trigram similarity.
type fuzzyIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
}

func newFuzzyIndex() *fuzzyIndex {
	return &fuzzyIndex{graph: hnsw.NewGraph[string]()}
}

// Add indexes names that are not indexed yet.
func (fi *fuzzyIndex) Add(names ...string) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	var nodes []hnsw.Node[string]
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, exists := fi.graph.Lookup(name); exists {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(name, trigramVector(name)))
	}
	if len(nodes) > 0 {
		fi.graph.Add(nodes...)
	}
}

// Len returns the number of indexed names.
func (fi *fuzzyIndex) Len() int {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return fi.graph.Len()
}

// Search returns up to k indexed names close to query, nearest first.
func (fi *fuzzyIndex) Search(query string, k int) []string {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	if fi.graph.Len() == 0 || k <= 0 {
		return nil
	}
	qt := trigrams(query)
	type hit struct {
		name string
		dist float64
	}
	var hits []hit
	for _, n := range fi.graph.Search(vectorOf(qt), max(k, searchBreadth)) {
		if d := 1 - cosine(qt, trigrams(n.Key)); d <= maxFuzzyDistance {
			hits = append(hits, hit{n.Key, d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].name < hits[j].name
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// searchAmong ranks candidates against query without keeping an index.
func searchAmong(query string, candidates []string, k int) []string {
	fi := newFuzzyIndex()
	fi.Add(candidates...)
	return fi.Search(query, k)
}

// trigrams counts the padded, lowercased character trigrams of s.
func trigrams(s string) map[string]float64 {
	counts := make(map[string]float64)
	runes := []rune("  " + strings.ToLower(s) + " ")
	for i := 0; i+3 <= len(runes); i++ {
		counts[string(runes[i:i+3])]++
	}
	return counts
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for g, x := range a {
		dot += x * b[g]
		na += x * x
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

// trigramVector embeds s as its normalized trigram counts hashed into a
// fixed number of buckets.
func trigramVector(s string) []float32 {
	return vectorOf(trigrams(s))
}

func vectorOf(counts map[string]float64) []float32 {
	v := make([]float32, trigramDims)
	for g, n := range counts {
		h := fnv.New32a()
		h.Write([]byte(g))
		v[h.Sum32()%trigramDims] += float32(n)
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
