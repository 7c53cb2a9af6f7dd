package facecache

import (
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// index wraps the HNSW graph over one snapshot's embeddings. Node keys are
// positions in the snapshot slice.
type index struct {
	mu    sync.Mutex
	graph *hnsw.Graph[int]
	dim   int
}

// buildIndex adds every embedding of the given dimension with a non-zero
// norm. Other vectors cannot be placed under cosine distance.
func buildIndex(identities []database.StoredIdentity, dim int) *index {
	g := hnsw.NewGraph[int]()
	g.M = database.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(database.HNSWMaxNeighbors)
	g.EfSearch = database.HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	for i := range identities {
		vec := identities[i].Embedding
		if len(vec) != dim || zeroNorm(vec) {
			continue
		}
		g.Add(hnsw.MakeNode(i, vec))
	}
	return &index{graph: g, dim: dim}
}

func zeroNorm(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// search returns up to k snapshot positions nearest to query.
func (ix *index) search(query []float32, k int) []int {
	if len(query) != ix.dim || k <= 0 || zeroNorm(query) {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.graph.Len() == 0 {
		return nil
	}
	neighbors := ix.graph.Search(query, k)
	out := make([]int, len(neighbors))
	for i, n := range neighbors {
		out[i] = n.Key
	}
	return out
}
