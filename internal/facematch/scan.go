package facematch

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// DuplicatePair is two registered identities whose faces match each other.
type DuplicatePair struct {
	First         IdentityMatch `json:"first"`
	Second        IdentityMatch `json:"second"`
	Confidence    float64       `json:"confidence"`
	AgreeingCount int           `json:"agreeing_count"`
	Scores        Scores        `json:"scores"`
}

// ScanDuplicates compares every registered face with every later one and
// returns the matching pairs, most confident first. Identities are compared
// in the order given; each row of the comparison matrix is one unit of work
// for the worker pool and calls progress once when done. Faces whose
// dimension differs from the first face are skipped.
func ScanDuplicates(ctx context.Context, identities []database.StoredIdentity, opts Options, workers int, progress func()) ([]DuplicatePair, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	var (
		mu    sync.Mutex
		pairs []DuplicatePair
		wg    sync.WaitGroup
	)
	rows := make(chan int)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rows {
				found := scanRow(identities, i, opts)
				if len(found) > 0 {
					mu.Lock()
					pairs = append(pairs, found...)
					mu.Unlock()
				}
				if progress != nil {
					progress()
				}
			}
		}()
	}

	var err error
feed:
	for i := range identities {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case rows <- i:
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		}
	}
	close(rows)
	wg.Wait()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].Confidence != pairs[b].Confidence {
			return pairs[a].Confidence > pairs[b].Confidence
		}
		if pairs[a].First.IdentityID != pairs[b].First.IdentityID {
			return pairs[a].First.IdentityID < pairs[b].First.IdentityID
		}
		return pairs[a].Second.IdentityID < pairs[b].Second.IdentityID
	})
	return pairs, nil
}

func scanRow(identities []database.StoredIdentity, i int, opts Options) []DuplicatePair {
	a := &identities[i]
	if len(a.Embedding) == 0 || len(a.Embedding) != len(identities[0].Embedding) {
		return nil
	}
	var out []DuplicatePair
	for j := i + 1; j < len(identities); j++ {
		b := &identities[j]
		if len(b.Embedding) != len(a.Embedding) {
			continue
		}
		decision := opts.Decide(ComputeSimilarities(a.Embedding, b.Embedding))
		if !decision.IsMatch {
			continue
		}
		out = append(out, DuplicatePair{
			First:         IdentityMatch{IdentityID: a.IdentityID, DisplayName: a.DisplayName, ExternalRef: a.ExternalRef},
			Second:        IdentityMatch{IdentityID: b.IdentityID, DisplayName: b.DisplayName, ExternalRef: b.ExternalRef},
			Confidence:    decision.Confidence,
			AgreeingCount: decision.AgreeingCount,
			Scores:        decision.Scores,
		})
	}
	return out
}
