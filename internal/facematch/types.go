// Package facematch scores face embeddings against each other and decides,
// by per-metric votes, whether two faces belong to the same person.
package facematch

// Metric names one of the similarity/distance functions used for voting.
type Metric string

const (
	MetricEuclidean  Metric = "euclidean"   // L2 distance, lower is more similar
	MetricCosine     Metric = "cosine"      // rescaled cosine similarity, higher is more similar
	MetricManhattan  Metric = "manhattan"   // L1 distance, lower is more similar
	MetricDotProduct Metric = "dot_product" // rescaled dot of unit vectors, higher is more similar
)

// Metrics lists every metric in the order scores are computed and reported.
var Metrics = []Metric{MetricEuclidean, MetricCosine, MetricManhattan, MetricDotProduct}

// IsDistance reports whether lower scores mean more similar.
func (m Metric) IsDistance() bool {
	return m == MetricEuclidean || m == MetricManhattan
}

// Valid reports whether m is one of the known metrics.
func (m Metric) Valid() bool {
	for _, known := range Metrics {
		if m == known {
			return true
		}
	}
	return false
}

// SimilarityResult is a single metric score for one comparison.
type SimilarityResult struct {
	Metric Metric  `json:"metric"`
	Score  float64 `json:"score"`
}

// Scores holds the score of every metric for one comparison.
type Scores map[Metric]float64

// Results returns the scores as an ordered slice.
func (s Scores) Results() []SimilarityResult {
	out := make([]SimilarityResult, 0, len(Metrics))
	for _, m := range Metrics {
		if score, ok := s[m]; ok {
			out = append(out, SimilarityResult{Metric: m, Score: score})
		}
	}
	return out
}

// Votes holds the per-metric duplicate/match vote for one comparison.
type Votes map[Metric]bool

// Agreeing counts the metrics that voted true.
func (v Votes) Agreeing() int {
	n := 0
	for _, vote := range v {
		if vote {
			n++
		}
	}
	return n
}

// MatchDecision is the outcome of comparing one face against one stored face.
type MatchDecision struct {
	IsMatch           bool    `json:"is_match"`
	MatchedIdentityID string  `json:"matched_identity_id,omitempty"`
	Confidence        float64 `json:"confidence"`
	Scores            Scores  `json:"scores"`
	Votes             Votes   `json:"votes"`
	AgreeingCount     int     `json:"agreeing_count"`
}

// IdentityMatch describes the stored identity a face was matched to.
type IdentityMatch struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// DuplicateResult is the outcome of comparing one face against every
// registered face.
type DuplicateResult struct {
	IsDuplicate     bool           `json:"is_duplicate"`
	MatchedIdentity *IdentityMatch `json:"matched_identity,omitempty"`
	Confidence      float64        `json:"confidence"`
	Scores          Scores         `json:"scores,omitempty"`
	Votes           Votes          `json:"votes,omitempty"`
	AgreeingMetrics int            `json:"agreeing_metrics"`
	Compared        int            `json:"compared"`
}
