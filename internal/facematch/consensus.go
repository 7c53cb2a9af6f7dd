package facematch

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/campus-attendance/internal/config"
)

// Options is the runtime operating point of the detector.
type Options struct {
	EuclideanThreshold  float64 `json:"euclidean_threshold"`
	CosineThreshold     float64 `json:"cosine_threshold"`
	ManhattanThreshold  float64 `json:"manhattan_threshold"`
	DotProductThreshold float64 `json:"dot_product_threshold"`
	PrimaryMetric       Metric  `json:"primary_metric"`
	UseMultipleMetrics  bool    `json:"use_multiple_metrics"`
	MinAgreeingMetrics  int     `json:"min_agreeing_metrics"`
}

// DefaultOptions returns the balanced operating point.
func DefaultOptions() Options {
	return Options{
		EuclideanThreshold:  0.4,
		CosineThreshold:     0.85,
		ManhattanThreshold:  15.0,
		DotProductThreshold: 0.85,
		PrimaryMetric:       MetricCosine,
		UseMultipleMetrics:  true,
		MinAgreeingMetrics:  2,
	}
}

// OptionsFromConfig converts the loaded matching configuration.
func OptionsFromConfig(cfg config.MatchingConfig) Options {
	return Options{
		EuclideanThreshold:  cfg.EuclideanThreshold,
		CosineThreshold:     cfg.CosineThreshold,
		ManhattanThreshold:  cfg.ManhattanThreshold,
		DotProductThreshold: cfg.DotProductThreshold,
		PrimaryMetric:       Metric(cfg.PrimaryMetric),
		UseMultipleMetrics:  cfg.UseMultipleMetrics,
		MinAgreeingMetrics:  cfg.MinAgreeingMetrics,
	}
}

var errInvalidOptions = errors.New("invalid matching options")

// Validate checks thresholds and the voting policy.
func (o Options) Validate() error {
	for _, m := range Metrics {
		t := o.Threshold(m)
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
			return fmt.Errorf("%w: %s threshold must be a non-negative number, got %v", errInvalidOptions, m, t)
		}
		if !m.IsDistance() && t > 1 {
			return fmt.Errorf("%w: %s threshold must be within [0,1], got %v", errInvalidOptions, m, t)
		}
	}
	if !o.PrimaryMetric.Valid() {
		return fmt.Errorf("%w: unknown primary metric %q", errInvalidOptions, o.PrimaryMetric)
	}
	if o.UseMultipleMetrics && (o.MinAgreeingMetrics < 1 || o.MinAgreeingMetrics > len(Metrics)) {
		return fmt.Errorf("%w: min agreeing metrics must be between 1 and %d, got %d",
			errInvalidOptions, len(Metrics), o.MinAgreeingMetrics)
	}
	return nil
}

// Threshold returns the configured threshold for m.
func (o Options) Threshold(m Metric) float64 {
	switch m {
	case MetricEuclidean:
		return o.EuclideanThreshold
	case MetricCosine:
		return o.CosineThreshold
	case MetricManhattan:
		return o.ManhattanThreshold
	case MetricDotProduct:
		return o.DotProductThreshold
	}
	return math.NaN()
}

// Vote reports whether a single metric considers the pair the same face.
// Distance metrics vote true at or below the threshold, similarity metrics
// at or above it.
func (o Options) Vote(m Metric, score float64) bool {
	t := o.Threshold(m)
	if m.IsDistance() {
		return score <= t
	}
	return score >= t
}

// Votes evaluates every metric present in scores.
func (o Options) Votes(scores Scores) Votes {
	votes := make(Votes, len(scores))
	for _, m := range Metrics {
		if score, ok := scores[m]; ok {
			votes[m] = o.Vote(m, score)
		}
	}
	return votes
}

// Confidence converts the primary metric score to a higher-is-better value
// in [0,1]. Distances map through 1/(1+d).
func (o Options) Confidence(scores Scores) float64 {
	score, ok := scores[o.PrimaryMetric]
	if !ok || math.IsNaN(score) {
		return 0
	}
	if o.PrimaryMetric.IsDistance() {
		if math.IsInf(score, 1) || score < 0 {
			return 0
		}
		return 1 / (1 + score)
	}
	return score
}

// Decide applies the voting policy to one comparison.
func (o Options) Decide(scores Scores) MatchDecision {
	votes := o.Votes(scores)
	agreeing := votes.Agreeing()

	var isMatch bool
	if o.UseMultipleMetrics {
		isMatch = agreeing >= o.MinAgreeingMetrics
	} else {
		isMatch = votes[o.PrimaryMetric]
	}

	return MatchDecision{
		IsMatch:       isMatch,
		Confidence:    o.Confidence(scores),
		Scores:        scores,
		Votes:         votes,
		AgreeingCount: agreeing,
	}
}
