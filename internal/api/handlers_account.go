package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleGetAccount handles GET /api/accounts/{id}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "account id required")
		return
	}

	profile, err := s.leaderboard.GetProfile(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

// handleGetTrades handles GET /api/accounts/{id}/trades
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	limit := intQueryParam(r, "limit", 0, 0)
	offset := intQueryParam(r, "offset", 0, 0)

	trades, err := s.leaderboard.GetTrades(r.Context(), accountID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
		"offset": offset,
	})
}

// handleGetEquity handles GET /api/accounts/{id}/equity
func (s *Server) handleGetEquity(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	days := intQueryParam(r, "days", 0, 0)

	points, err := s.leaderboard.GetEquity(r.Context(), accountID, days)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"equity": points,
		"count":  len(points),
	})
}

// handleRegister handles POST /api/accounts
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	account, err := s.registry.Register(r.Context(), req.Token)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, account)
}

// handleReauthorize handles POST /api/accounts/{id}/reauthorize
func (s *Server) handleReauthorize(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req struct {
		Token string `json:"token"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	if err := s.registry.Reauthorize(r.Context(), accountID, req.Token); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"accountId": accountID,
		"status":    "reauthorized",
	})
}

// handleRevoke handles DELETE /api/accounts/{id}
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	if err := s.registry.Revoke(r.Context(), accountID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"accountId": accountID,
		"status":    "revoked",
	})
}
