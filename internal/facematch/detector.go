package facematch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/kozaktomas/campus-attendance/internal/constants"
	"github.com/kozaktomas/campus-attendance/internal/database"
)

var (
	// ErrInvalidVector is returned for probe vectors that are empty, have the
	// wrong dimension or contain non-finite values.
	ErrInvalidVector = errors.New("invalid face vector")

	// ErrStoredVector is returned when a registered face cannot be compared
	// with a valid probe.
	ErrStoredVector = errors.New("stored face vector unusable")
)

// Detector decides whether a face matches registered faces using
// per-metric votes. It is safe for concurrent use.
type Detector struct {
	source CandidateSource
	dim    int
	logger *slog.Logger

	mu   sync.RWMutex
	opts Options
}

// NewDetector creates a detector. dim is the expected embedding dimension;
// 0 accepts any non-empty vector.
func NewDetector(source CandidateSource, opts Options, dim int, logger *slog.Logger) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		source: source,
		dim:    dim,
		logger: logger.With("component", "facematch"),
		opts:   opts,
	}, nil
}

// Options returns the active operating point.
func (d *Detector) Options() Options {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// SetOptions replaces the operating point after validating it.
func (d *Detector) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.opts = opts
	d.mu.Unlock()
	d.logger.Info("matching options updated",
		"primary_metric", opts.PrimaryMetric,
		"use_multiple_metrics", opts.UseMultipleMetrics,
		"min_agreeing_metrics", opts.MinAgreeingMetrics)
	return nil
}

// Dim returns the expected embedding dimension (0 if unchecked).
func (d *Detector) Dim() int {
	return d.dim
}

// ValidateVector rejects probes the detector cannot score.
func (d *Detector) ValidateVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidVector)
	}
	if d.dim > 0 && len(v) != d.dim {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrInvalidVector, d.dim, len(v))
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidVector, i)
		}
	}
	return nil
}

// CheckDuplicate compares vector against every registered face except
// excludeID. Among faces voted duplicate the highest confidence wins; ties go
// to the earliest registered face. An empty registry is never a duplicate.
func (d *Detector) CheckDuplicate(ctx context.Context, vector []float32, excludeID string) (*DuplicateResult, error) {
	if err := d.ValidateVector(vector); err != nil {
		return nil, err
	}
	set, err := d.source.Candidates(ctx, excludeID)
	if err != nil {
		return nil, fmt.Errorf("load registered faces: %w", err)
	}

	result := d.bestMatch(d.Options(), vector, set.Identities(), excludeID)
	if result.IsDuplicate {
		d.logger.Debug("duplicate face found",
			"identity_id", result.MatchedIdentity.IdentityID,
			"confidence", result.Confidence,
			"agreeing_metrics", result.AgreeingMetrics)
	}
	return result, nil
}

// Identify finds who a face belongs to without a claimed identity. The
// snapshot's approximate index shortlists limit*HNSWSearchMultiplier faces,
// which are then decided exactly like CheckDuplicate.
func (d *Detector) Identify(ctx context.Context, vector []float32, limit int) (*DuplicateResult, error) {
	if err := d.ValidateVector(vector); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = constants.DefaultIdentifyLimit
	}
	set, err := d.source.Candidates(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load registered faces: %w", err)
	}

	all := set.Identities()
	idx := set.Nearest(vector, limit*database.HNSWSearchMultiplier)
	// Registration order keeps the tie-break identical to CheckDuplicate.
	sort.Ints(idx)
	shortlist := make([]database.StoredIdentity, 0, len(idx))
	for _, i := range idx {
		if i >= 0 && i < len(all) {
			shortlist = append(shortlist, all[i])
		}
	}
	return d.bestMatch(d.Options(), vector, shortlist, ""), nil
}

// Verify compares a probe against one known face.
func (d *Detector) Verify(known, candidate []float32) (MatchDecision, error) {
	if err := d.ValidateVector(candidate); err != nil {
		return MatchDecision{}, err
	}
	if len(known) != len(candidate) {
		return MatchDecision{}, fmt.Errorf("%w: stored vector has %d dimensions, probe has %d",
			ErrStoredVector, len(known), len(candidate))
	}
	return d.Options().Decide(ComputeSimilarities(known, candidate)), nil
}

func (d *Detector) bestMatch(opts Options, vector []float32, candidates []database.StoredIdentity, excludeID string) *DuplicateResult {
	result := &DuplicateResult{}
	var best *MatchDecision
	var bestIdentity *database.StoredIdentity

	for i := range candidates {
		c := &candidates[i]
		if excludeID != "" && c.IdentityID == excludeID {
			continue
		}
		if len(c.Embedding) != len(vector) {
			d.logger.Warn("skipping registered face with mismatched dimension",
				"identity_id", c.IdentityID, "dim", len(c.Embedding), "expected", len(vector))
			continue
		}
		result.Compared++

		decision := opts.Decide(ComputeSimilarities(vector, c.Embedding))
		if !decision.IsMatch {
			continue
		}
		// Strict comparison: the first face reaching the best confidence keeps it.
		if best == nil || decision.Confidence > best.Confidence {
			best = &decision
			bestIdentity = c
		}
	}

	if best == nil {
		return result
	}
	best.MatchedIdentityID = bestIdentity.IdentityID
	result.IsDuplicate = true
	result.MatchedIdentity = &IdentityMatch{
		IdentityID:  bestIdentity.IdentityID,
		DisplayName: bestIdentity.DisplayName,
		ExternalRef: bestIdentity.ExternalRef,
	}
	result.Confidence = best.Confidence
	result.Scores = best.Scores
	result.Votes = best.Votes
	result.AgreeingMetrics = best.AgreeingCount
	return result
}
