package api

import (
	"net/http"
	"strconv"

	"github.com/trader-mirror/internal/storage"
)

// intQueryParam parses an integer query parameter, falling back to def on
// absence or garbage and capping at max when max > 0.
func intQueryParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// handleGetRankings handles GET /api/rankings
func (s *Server) handleGetRankings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	sort := query.Get("sort")
	if sort == "" {
		sort = storage.SortScore
	}
	direction := query.Get("direction")
	if direction == "" {
		direction = "desc"
	}

	q := storage.RankingQuery{
		Sort:        sort,
		Direction:   direction,
		MinActivity: int64(intQueryParam(r, "minActivity", 0, 0)),
		Limit:       intQueryParam(r, "limit", 0, 0),
		Offset:      intQueryParam(r, "offset", 0, 0),
	}

	snapshots, err := s.leaderboard.GetRanking(r.Context(), q)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rankings": snapshots,
		"count":    len(snapshots),
		"offset":   q.Offset,
	})
}

// handleGetStats handles GET /api/rankings/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.leaderboard.GetStats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
