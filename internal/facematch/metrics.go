package facematch

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// toFloat64 widens an embedding. It returns false for empty input or any
// NaN/Inf component.
func toFloat64(v []float32) ([]float64, bool) {
	if len(v) == 0 {
		return nil, false
	}
	out := make([]float64, len(v))
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func pair(a, b []float32) ([]float64, []float64, bool) {
	if len(a) != len(b) {
		return nil, nil, false
	}
	fa, ok := toFloat64(a)
	if !ok {
		return nil, nil, false
	}
	fb, ok := toFloat64(b)
	if !ok {
		return nil, nil, false
	}
	return fa, fb, true
}

// EuclideanDistance returns the L2 distance between a and b, or +Inf when the
// vectors are empty, differ in length or contain non-finite values.
func EuclideanDistance(a, b []float32) float64 {
	fa, fb, ok := pair(a, b)
	if !ok {
		return math.Inf(1)
	}
	return floats.Distance(fa, fb, 2)
}

// ManhattanDistance returns the L1 distance between a and b, or +Inf on
// malformed input.
func ManhattanDistance(a, b []float32) float64 {
	fa, fb, ok := pair(a, b)
	if !ok {
		return math.Inf(1)
	}
	return floats.Distance(fa, fb, 1)
}

// CosineSimilarity returns the cosine of the angle between a and b rescaled
// from [-1,1] to [0,1]. Zero-norm or malformed input returns 0.
func CosineSimilarity(a, b []float32) float64 {
	fa, fb, ok := pair(a, b)
	if !ok {
		return 0
	}
	na := floats.Dot(fa, fa)
	nb := floats.Dot(fb, fb)
	if na == 0 || nb == 0 {
		return 0
	}
	// sqrt(na*nb) keeps cos(v, v) at exactly 1.
	cos := floats.Dot(fa, fb) / math.Sqrt(na*nb)
	return rescale(cos)
}

// DotProductSimilarity unit-normalizes a and b independently and returns
// their dot product rescaled to [0,1]. Zero-norm or malformed input returns 0.
func DotProductSimilarity(a, b []float32) float64 {
	fa, fb, ok := pair(a, b)
	if !ok {
		return 0
	}
	na := floats.Norm(fa, 2)
	nb := floats.Norm(fb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	floats.Scale(1/na, fa)
	floats.Scale(1/nb, fb)
	return rescale(floats.Dot(fa, fb))
}

// rescale maps [-1,1] onto [0,1], clamping floating-point drift.
func rescale(x float64) float64 {
	s := (x + 1) / 2
	switch {
	case math.IsNaN(s):
		return 0
	case s > 1:
		return 1
	case s < 0:
		return 0
	}
	return s
}

// ComputeSimilarities scores a against b under every metric.
func ComputeSimilarities(a, b []float32) Scores {
	return Scores{
		MetricEuclidean:  EuclideanDistance(a, b),
		MetricCosine:     CosineSimilarity(a, b),
		MetricManhattan:  ManhattanDistance(a, b),
		MetricDotProduct: DotProductSimilarity(a, b),
	}
}

// Score computes a single metric.
func Score(m Metric, a, b []float32) float64 {
	switch m {
	case MetricEuclidean:
		return EuclideanDistance(a, b)
	case MetricCosine:
		return CosineSimilarity(a, b)
	case MetricManhattan:
		return ManhattanDistance(a, b)
	case MetricDotProduct:
		return DotProductSimilarity(a, b)
	}
	return math.NaN()
}
