package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gustycube/podwatch/internal/directory"
)

type nodesQuery struct {
	Status   string `query:"status" validate:"omitempty,oneof=active inactive"`
	Location string `query:"location" validate:"max=128"`
	Region   string `query:"region" validate:"max=128"`
	Page     int    `query:"page" validate:"min=0,max=1000000"`
	Limit    int    `query:"limit" validate:"min=0,max=1000"`
}

type leaderboardQuery struct {
	SortBy string `query:"sortBy" validate:"omitempty,oneof=xdnScore uptime latency rewards stake performance riskScore"`
	Limit  int    `query:"limit" validate:"min=0,max=1000"`
}

type historyQuery struct {
	Days int `query:"days" validate:"min=0,max=365"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	var q nodesQuery
	if details := bindQuery(r, &q); details != nil {
		respondError(w, http.StatusBadRequest, "Invalid query parameters", details)
		return
	}
	page, err := s.dir.Nodes(r.Context(), directory.Filter{
		Status:   q.Status,
		Location: q.Location,
		Region:   q.Region,
		Page:     q.Page,
		Limit:    q.Limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	rec, err := s.dir.Node(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var q historyQuery
	if details := bindQuery(r, &q); details != nil {
		respondError(w, http.StatusBadRequest, "Invalid query parameters", details)
		return
	}
	h, err := s.dir.History(r.Context(), chi.URLParam(r, "id"), q.Days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n := s.dir.Refresh(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"cleared": n,
		"message": "cache cleared, next read recomputes from seeds",
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	var q leaderboardQuery
	if details := bindQuery(r, &q); details != nil {
		respondError(w, http.StatusBadRequest, "Invalid query parameters", details)
		return
	}
	rows, err := s.dir.Leaderboard(r.Context(), q.SortBy, q.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = "xdnScore"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"leaderboard": rows,
		"sortBy":      sortBy,
		"count":       len(rows),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.dir.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	hm, err := s.dir.Heatmap(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, hm)
}
