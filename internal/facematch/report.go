package facematch

import (
	"context"
	"fmt"
	"sort"
)

// Comparison is the full scoring of a probe against one registered face.
type Comparison struct {
	Identity      IdentityMatch `json:"identity"`
	Scores        Scores        `json:"scores"`
	Votes         Votes         `json:"votes"`
	AgreeingCount int           `json:"agreeing_count"`
	Confidence    float64       `json:"confidence"`
	IsDuplicate   bool          `json:"is_duplicate"`
}

// SimilarityReport lists every comparison made for one probe.
type SimilarityReport struct {
	Options     Options          `json:"options"`
	Comparisons []Comparison     `json:"comparisons"`
	Result      *DuplicateResult `json:"result"`
}

// SimilarityReport scores vector against every registered face except
// excludeID. Comparisons are ordered best first by the primary metric.
func (d *Detector) SimilarityReport(ctx context.Context, vector []float32, excludeID string) (*SimilarityReport, error) {
	if err := d.ValidateVector(vector); err != nil {
		return nil, err
	}
	set, err := d.source.Candidates(ctx, excludeID)
	if err != nil {
		return nil, fmt.Errorf("load registered faces: %w", err)
	}

	opts := d.Options()
	candidates := set.Identities()
	report := &SimilarityReport{
		Options:     opts,
		Comparisons: make([]Comparison, 0, len(candidates)),
	}
	for i := range candidates {
		c := &candidates[i]
		if (excludeID != "" && c.IdentityID == excludeID) || len(c.Embedding) != len(vector) {
			continue
		}
		decision := opts.Decide(ComputeSimilarities(vector, c.Embedding))
		report.Comparisons = append(report.Comparisons, Comparison{
			Identity: IdentityMatch{
				IdentityID:  c.IdentityID,
				DisplayName: c.DisplayName,
				ExternalRef: c.ExternalRef,
			},
			Scores:        decision.Scores,
			Votes:         decision.Votes,
			AgreeingCount: decision.AgreeingCount,
			Confidence:    decision.Confidence,
			IsDuplicate:   decision.IsMatch,
		})
	}

	primary := opts.PrimaryMetric
	sort.SliceStable(report.Comparisons, func(i, j int) bool {
		a := report.Comparisons[i].Scores[primary]
		b := report.Comparisons[j].Scores[primary]
		if primary.IsDistance() {
			return a < b
		}
		return a > b
	})

	report.Result = d.bestMatch(opts, vector, candidates, excludeID)
	return report, nil
}
