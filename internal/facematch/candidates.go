package facematch

import (
	"context"
	"sort"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// CandidateSet is an immutable view of the registered faces.
type CandidateSet interface {
	// Identities returns the candidates in registration order.
	Identities() []database.StoredIdentity
	// Nearest returns indices into Identities of up to k approximate
	// nearest neighbours of query.
	Nearest(query []float32, k int) []int
}

// CandidateSource yields the registered faces, optionally without one identity.
type CandidateSource interface {
	Candidates(ctx context.Context, excludeID string) (CandidateSet, error)
}

// SliceSet is a CandidateSet over a plain slice with exact nearest-neighbour
// search. Useful for small sets and tests.
type SliceSet []database.StoredIdentity

func (s SliceSet) Identities() []database.StoredIdentity { return s }

func (s SliceSet) Nearest(query []float32, k int) []int {
	type scored struct {
		idx   int
		score float64
	}
	all := make([]scored, 0, len(s))
	for i := range s {
		all = append(all, scored{idx: i, score: CosineSimilarity(query, s[i].Embedding)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if k > len(all) {
		k = len(all)
	}
	out := make([]int, k)
	for i := range out {
		out[i] = all[i].idx
	}
	return out
}

// StaticSource serves a fixed slice, dropping the excluded identity.
type StaticSource []database.StoredIdentity

func (s StaticSource) Candidates(_ context.Context, excludeID string) (CandidateSet, error) {
	out := make(SliceSet, 0, len(s))
	for _, id := range s {
		if excludeID != "" && id.IdentityID == excludeID {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
