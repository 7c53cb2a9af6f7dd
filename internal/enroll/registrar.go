// Package enroll registers faces. A face is only stored after the duplicate
// detector has cleared it against every other registered identity.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kozaktomas/campus-attendance/internal/clock"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/embedding"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

var (
	// ErrDuplicateFace is matched by every *DuplicateError.
	ErrDuplicateFace = errors.New("face already registered to another identity")

	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid registration request")
)

// DuplicateError rejects a registration and carries the detector result.
type DuplicateError struct {
	Result *facematch.DuplicateResult
}

func (e *DuplicateError) Error() string {
	if e.Result == nil || e.Result.MatchedIdentity == nil {
		return ErrDuplicateFace.Error()
	}
	return fmt.Sprintf("%s: matches %s (confidence %.4f)",
		ErrDuplicateFace, e.Result.MatchedIdentity.IdentityID, e.Result.Confidence)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateFace }

// Matcher is the part of the duplicate detector the registrar uses.
type Matcher interface {
	CheckDuplicate(ctx context.Context, vector []float32, excludeID string) (*facematch.DuplicateResult, error)
	SimilarityReport(ctx context.Context, vector []float32, excludeID string) (*facematch.SimilarityReport, error)
	Identify(ctx context.Context, vector []float32, limit int) (*facematch.DuplicateResult, error)
}

// Invalidator drops cached candidate sets after the registry changed.
type Invalidator interface {
	Invalidate()
}

// Registrar stores and removes registered faces. Within one process the
// duplicate check and the write it guards run under a single lock.
type Registrar struct {
	mu sync.Mutex

	store    database.IdentityWriter
	provider embedding.Provider
	matcher  Matcher
	cache    Invalidator
	clock    clock.Clock
	logger   *slog.Logger
}

// NewRegistrar creates a Registrar. cache may be nil when nothing is cached.
func NewRegistrar(store database.IdentityWriter, provider embedding.Provider, matcher Matcher, cache Invalidator, clk clock.Clock, logger *slog.Logger) *Registrar {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		store:    store,
		provider: provider,
		matcher:  matcher,
		cache:    cache,
		clock:    clk,
		logger:   logger.With("component", "enroll"),
	}
}

// RegisterRequest registers or replaces the face of one identity.
type RegisterRequest struct {
	IdentityID  string
	DisplayName string
	ExternalRef string
	Image       []byte
}

// RegisterResult is a stored face.
type RegisterResult struct {
	Identity database.StoredIdentity
	// Replaced is set when the identity already had a face.
	Replaced bool
	// Compared is the number of registered faces the new one was checked against.
	Compared int
}

// Register embeds the image, rejects faces already registered to someone
// else and stores the embedding. Any error from the duplicate check blocks
// the registration.
func (r *Registrar) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	req.IdentityID = strings.TrimSpace(req.IdentityID)
	if req.IdentityID == "" {
		return nil, fmt.Errorf("%w: identity id is required", ErrInvalidRequest)
	}
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: image is required", ErrInvalidRequest)
	}
	log := r.logger.With("identity_id", req.IdentityID)

	vector, err := r.provider.Embed(ctx, req.Image)
	if err != nil {
		log.Warn("face embedding failed", "provider", r.provider.Name(), "error", err)
		return nil, fmt.Errorf("embed face: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dup, err := r.matcher.CheckDuplicate(ctx, vector, req.IdentityID)
	if err != nil {
		log.Error("duplicate check failed, registration blocked", "error", err)
		return nil, fmt.Errorf("check duplicate face: %w", err)
	}
	if dup.IsDuplicate {
		log.Warn("registration rejected: face already registered",
			"matched_identity", dup.MatchedIdentity.IdentityID,
			"confidence", dup.Confidence,
			"agreeing_metrics", dup.AgreeingMetrics)
		return nil, &DuplicateError{Result: dup}
	}

	existing, err := r.store.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", req.IdentityID, err)
	}

	now := r.clock.Now()
	identity := database.StoredIdentity{
		IdentityID:     req.IdentityID,
		DisplayName:    req.DisplayName,
		ExternalRef:    req.ExternalRef,
		NormalizedName: facematch.NormalizePersonName(req.DisplayName),
		Embedding:      vector,
		Model:          r.provider.Name(),
		Dim:            len(vector),
		RegisteredAt:   now,
		UpdatedAt:      now,
	}
	if existing != nil {
		identity.RegisteredAt = existing.RegisteredAt
		if identity.DisplayName == "" {
			identity.DisplayName = existing.DisplayName
			identity.NormalizedName = existing.NormalizedName
		}
		if identity.ExternalRef == "" {
			identity.ExternalRef = existing.ExternalRef
		}
	}

	if err := r.store.SaveIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("save identity %s: %w", req.IdentityID, err)
	}
	r.invalidate()

	log.Info("face registered", "replaced", existing != nil, "dim", identity.Dim, "compared", dup.Compared)
	return &RegisterResult{Identity: identity, Replaced: existing != nil, Compared: dup.Compared}, nil
}

// Remove deletes the registered face of identityID.
func (r *Registrar) Remove(ctx context.Context, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.DeleteIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("delete identity %s: %w", identityID, err)
	}
	r.invalidate()
	r.logger.Info("face removed", "identity_id", identityID)
	return nil
}

// CheckDuplicateImage runs the duplicate check for an image without storing
// anything. excludeID may be empty.
func (r *Registrar) CheckDuplicateImage(ctx context.Context, image []byte, excludeID string) (*facematch.DuplicateResult, error) {
	vector, err := r.embed(ctx, image)
	if err != nil {
		return nil, err
	}
	res, err := r.matcher.CheckDuplicate(ctx, vector, excludeID)
	if err != nil {
		return nil, fmt.Errorf("check duplicate face: %w", err)
	}
	return res, nil
}

// ReportImage scores an image against every registered face.
func (r *Registrar) ReportImage(ctx context.Context, image []byte, excludeID string) (*facematch.SimilarityReport, error) {
	vector, err := r.embed(ctx, image)
	if err != nil {
		return nil, err
	}
	report, err := r.matcher.SimilarityReport(ctx, vector, excludeID)
	if err != nil {
		return nil, fmt.Errorf("similarity report: %w", err)
	}
	return report, nil
}

// IdentifyImage finds the registered identity an image belongs to.
func (r *Registrar) IdentifyImage(ctx context.Context, image []byte, limit int) (*facematch.DuplicateResult, error) {
	vector, err := r.embed(ctx, image)
	if err != nil {
		return nil, err
	}
	res, err := r.matcher.Identify(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("identify face: %w", err)
	}
	return res, nil
}

func (r *Registrar) embed(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is required", ErrInvalidRequest)
	}
	vector, err := r.provider.Embed(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("embed face: %w", err)
	}
	return vector, nil
}

func (r *Registrar) invalidate() {
	if r.cache != nil {
		r.cache.Invalidate()
	}
}
