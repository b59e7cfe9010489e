package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/duro/internal/api"
	"github.com/lazypower/duro/internal/logging"
	"github.com/lazypower/duro/internal/metrics"
)

// Server is the duro HTTP API server.
type Server struct {
	svc     *api.Service
	router  chi.Router
	version string
	started time.Time
	log     *slog.Logger
}

// New creates a new Server over svc with the given version string.
func New(svc *api.Service, version string) *Server {
	s := &Server{
		svc:     svc,
		version: version,
		started: time.Now(),
		log:     logging.New("server"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/", handle(s.svc.ListArtifacts, bindListArtifacts, http.StatusOK))
			r.Post("/facts", handle(s.svc.StoreFact, bindBody[api.StoreFactInput], http.StatusCreated))
			r.Post("/decisions", handle(s.svc.StoreDecision, bindBody[api.StoreDecisionInput], http.StatusCreated))
			r.Post("/episodes", handle(s.svc.StoreEpisode, bindBody[api.StoreEpisodeInput], http.StatusCreated))
			r.Post("/changes", handle(s.svc.StoreChange, bindBody[api.StoreChangeInput], http.StatusCreated))
			r.Post("/incidents", handle(s.svc.StoreIncident, bindBody[api.StoreIncidentInput], http.StatusCreated))
			r.Get("/{id}", handle(s.svc.GetArtifact, bindID, http.StatusOK))
			r.Delete("/{id}", handle(s.svc.DeleteArtifact, bindDelete, http.StatusOK))
			r.Get("/{id}/revisions", handle(s.svc.Revisions, bindID, http.StatusOK))
		})

		r.Post("/facts/{id}/reinforce", handle(s.svc.ReinforceFact, bindID, http.StatusOK))
		r.Post("/facts/{id}/supersede", handle(s.svc.SupersedeFact, bindSupersede, http.StatusOK))
		r.Post("/decay", handle(s.svc.ApplyDecay, bindBody[api.ApplyDecayInput], http.StatusOK))

		r.Get("/decisions/unreviewed", handle(s.svc.ListUnreviewed, bindUnreviewed, http.StatusOK))
		r.Post("/decisions/{id}/outcome", handle(s.svc.ValidateDecision, bindOutcome, http.StatusOK))
		r.Get("/decisions/{id}/history", handle(s.svc.ValidationHistory, bindID, http.StatusOK))

		r.Get("/changes", handle(s.svc.RecentChanges, bindChanges, http.StatusOK))

		r.Route("/gate", func(r chi.Router) {
			r.Post("/", handle(s.svc.GateStart, bindBody[api.GateStartInput], http.StatusCreated))
			r.Get("/{id}", handle(s.svc.GateStatus, bindID, http.StatusOK))
			r.Patch("/{id}", handle(s.svc.GateUpdate, bindGateUpdate, http.StatusOK))
			r.Post("/{id}/links", handle(s.svc.GateLinkChange, bindGateLink, http.StatusOK))
			r.Post("/{id}/clear", handle(s.svc.GateClear, bindGateClear, http.StatusOK))
			r.Post("/{id}/complete", handle(s.svc.GateComplete, bindGateComplete, http.StatusOK))
		})

		r.Post("/evaluate", handle(s.svc.Evaluate, bindBody[api.EvaluateInput], http.StatusOK))
		r.Get("/waivers/threshold", handle(s.svc.CheckThreshold, bindThreshold, http.StatusOK))
		r.Get("/waivers/scoreboard", s.handleScoreboard)
		r.Get("/audit", handle(s.svc.ListAudit, bindAudit, http.StatusOK))
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.svc.DB.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.svc.DB.Path,
	}
	if s.svc.Pipeline != nil {
		if rs := s.svc.Pipeline.Rules(); rs != nil {
			body["rules"] = rs.Source
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleScoreboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Scoreboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}
