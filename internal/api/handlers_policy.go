package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/trader-mirror/internal/models"
)

// handleListPolicies handles GET /api/policies
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.policies.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
	})
}

// handleUpsertPolicy handles PUT /api/policies/{tier}. The store validates
// the override and applies it whole or not at all.
func (s *Server) handleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	tier, err := strconv.Atoi(mux.Vars(r)["tier"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "tier must be an integer")
		return
	}

	var req struct {
		CadenceSeconds      int `json:"cadenceSeconds"`
		StalenessMultiplier int `json:"stalenessMultiplier"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	policy := &models.SyncPolicy{
		Tier:                tier,
		CadenceSeconds:      req.CadenceSeconds,
		StalenessMultiplier: req.StalenessMultiplier,
	}

	if err := s.policies.Upsert(r.Context(), policy); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, policy)
}
