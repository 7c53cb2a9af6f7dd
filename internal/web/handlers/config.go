package handlers

import (
	"log/slog"
	"net/http"

	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

// OptionsStore holds the live matching options.
type OptionsStore interface {
	Options() facematch.Options
	SetOptions(opts facematch.Options) error
}

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config  *config.Config
	options OptionsStore
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config, options OptionsStore) *ConfigHandler {
	return &ConfigHandler{
		config:  cfg,
		options: options,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	DatabaseDriver      string            `json:"database_driver"`
	EmbeddingProvider   string            `json:"embedding_provider"`
	EmbeddingDim        int               `json:"embedding_dim"`
	Timezone            string            `json:"timezone"`
	Matching            facematch.Options `json:"matching"`
	VerifyMinConfidence float64           `json:"verify_min_confidence"`
	Presets             []string          `json:"presets"`
}

// Get returns the active configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		DatabaseDriver:      h.config.Database.Driver,
		EmbeddingProvider:   h.config.Embedding.Provider,
		EmbeddingDim:        h.config.Embedding.Dim,
		Timezone:            h.config.Attendance.Timezone,
		Matching:            h.options.Options(),
		VerifyMinConfidence: h.config.Matching.VerifyMinConfidence,
		Presets:             h.config.Presets.Names(),
	})
}

// UpdateMatchingRequest switches to a preset or sets explicit options.
// Preset wins when both are given.
type UpdateMatchingRequest struct {
	Preset  string             `json:"preset,omitempty"`
	Options *facematch.Options `json:"options,omitempty"`
}

// UpdateMatching changes the matching options at runtime. Stored faces are
// not touched, only future decisions.
func (h *ConfigHandler) UpdateMatching(w http.ResponseWriter, r *http.Request) {
	var req UpdateMatchingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var opts facematch.Options
	switch {
	case req.Preset != "":
		p, ok := h.config.Preset(req.Preset)
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown preset "+req.Preset)
			return
		}
		opts = facematch.OptionsFromConfig(p)
	case req.Options != nil:
		opts = *req.Options
	default:
		respondError(w, http.StatusBadRequest, "preset or options is required")
		return
	}

	if err := h.options.SetOptions(opts); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := actorOf(r)
	slog.InfoContext(r.Context(), "matching options changed",
		"preset", sanitizeForLog(req.Preset), "primary_metric", opts.PrimaryMetric,
		"min_agreeing", opts.MinAgreeingMetrics, "actor", sanitizeForLog(actor))
	respondJSON(w, http.StatusOK, h.options.Options())
}
