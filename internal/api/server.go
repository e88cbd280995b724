// Package api exposes the directory over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/gustycube/podwatch/internal/directory"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/model"
)

// Directory is the read surface served by the API. *directory.Service
// implements it.
type Directory interface {
	Nodes(ctx context.Context, f directory.Filter) (directory.NodePage, error)
	Node(ctx context.Context, id string) (model.NodeRecord, error)
	Leaderboard(ctx context.Context, sortBy string, limit int) ([]model.RankedNode, error)
	Refresh(ctx context.Context) int
	Stats(ctx context.Context) (model.NetworkStats, error)
	Heatmap(ctx context.Context) (directory.Heatmap, error)
	History(ctx context.Context, id string, days int) (directory.History, error)
}

type Config struct {
	// APIKeys gate every /api route; empty disables the gate.
	APIKeys []string
	// RateLimitRPM is requests per minute per client IP; 0 disables it.
	RateLimitRPM int
}

type Server struct {
	dir  Directory
	keys [][]byte
	rpm  int
	log  *logging.Logger
}

func NewServer(dir Directory, cfg Config, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Server{dir: dir, rpm: cfg.RateLimitRPM, log: log}
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			s.keys = append(s.keys, []byte(k))
		}
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Route("/api", func(r chi.Router) {
		if s.rpm > 0 {
			r.Use(httprate.Limit(s.rpm, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					respondError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil)
				}),
			))
		}
		r.Use(s.requireAPIKey)

		r.Get("/pnodes", s.handleNodes)
		r.Post("/pnodes/refresh", s.handleRefresh)
		r.Get("/pnodes/{id}", s.handleNode)
		r.Get("/pnodes/{id}/history", s.handleHistory)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/dashboard/stats", s.handleStats)
		r.Get("/network/heatmap", s.handleHeatmap)
	})
	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	if len(s.keys) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}
		if key == "" {
			respondError(w, http.StatusUnauthorized, "Unauthorized", map[string]string{"code": "missing_api_key"})
			return
		}
		if !s.validKey(key) {
			respondError(w, http.StatusUnauthorized, "Unauthorized", map[string]string{"code": "invalid_api_key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validKey(key string) bool {
	ok := 0
	for _, k := range s.keys {
		ok |= subtle.ConstantTimeCompare(k, []byte(key))
	}
	return ok == 1
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
