// Package api serves proposal status, histories and the pure conviction math
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/ledger"
	"github.com/sells-group/conviction-cli/internal/model"
	"github.com/sells-group/conviction-cli/internal/proposal"
)

// Engine is what the handlers need from proposal.Evaluator.
type Engine interface {
	Status(ctx context.Context, id string, now int64, entity string) (proposal.Status, error)
	History(ctx context.Context, id string, now int64, entity string) (proposal.History, error)
	EvaluateAll(ctx context.Context, now int64) ([]proposal.Status, error)
	Params() proposal.Params
}

// Server routes API requests to an Engine.
type Server struct {
	engine Engine
	cfg    config.ServerConfig
	router chi.Router
}

// NewServer builds the router. A non-positive rate limit disables limiting.
func NewServer(engine Engine, cfg config.ServerConfig) *Server {
	s := &Server{engine: engine, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			burst := cfg.Burst
			if burst < 1 {
				burst = 1
			}
			r.Use(newIPRateLimiter(cfg.RateLimit, burst).middleware)
		}
		r.Get("/proposals", s.handleListProposals)
		r.Get("/proposals/{id}", s.handleGetProposal)
		r.Get("/proposals/{id}/history", s.handleHistory)
		r.Get("/threshold", s.handleThreshold)
		r.Post("/conviction", s.handleConviction)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on the configured port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "api"))
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return eris.Wrap(err, "api: listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "api: shutdown")
	}
	log.Info("api stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	now, ok := timeParam(w, r)
	if !ok {
		return
	}
	all, err := s.engine.EvaluateAll(r.Context(), now)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if all == nil {
		all = []proposal.Status{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	now, ok := timeParam(w, r)
	if !ok {
		return
	}
	st, err := s.engine.Status(r.Context(), chi.URLParam(r, "id"), now, r.URL.Query().Get("entity"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	now, ok := timeParam(w, r)
	if !ok {
		return
	}
	h, err := s.engine.History(r.Context(), chi.URLParam(r, "id"), now, r.URL.Query().Get("entity"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// ThresholdResponse answers GET /api/v1/threshold.
type ThresholdResponse struct {
	Params         conviction.ThresholdParams `json:"params"`
	Alpha          float64                    `json:"alpha"`
	Threshold      model.Float                `json:"threshold"`
	MinNeededStake model.Float                `json:"min_needed_stake"`
	MaxConviction  model.Float                `json:"max_conviction"`
	Passable       bool                       `json:"passable"`
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	params := s.engine.Params()
	q := floatParams{r: r}
	tp := conviction.ThresholdParams{
		Requested: q.required("requested"),
		Funds:     q.required("funds"),
		Supply:    q.required("supply"),
		Beta:      q.optional("beta", params.Beta),
		Rho:       q.optional("rho", params.Rho),
	}
	alpha := q.optional("alpha", params.Decay.Alpha)
	if q.err != "" {
		writeError(w, r, http.StatusBadRequest, q.err)
		return
	}
	if tp.Funds <= 0 || tp.Supply <= 0 || tp.Requested < 0 {
		writeError(w, r, http.StatusBadRequest, "funds and supply must be > 0 and requested >= 0")
		return
	}
	if alpha <= 0 || alpha >= 1 {
		writeError(w, r, http.StatusBadRequest, "alpha must be in (0, 1)")
		return
	}

	thr := tp.Threshold(alpha)
	writeJSON(w, http.StatusOK, ThresholdResponse{
		Params:         tp,
		Alpha:          alpha,
		Threshold:      model.Float(thr),
		MinNeededStake: model.Float(conviction.MinNeededStake(thr, alpha)),
		MaxConviction:  model.Float(conviction.MaxConviction(tp.Supply, alpha)),
		Passable:       thr < conviction.MaxConviction(tp.Supply, alpha),
	})
}

// ConvictionRequest is the body of POST /api/v1/conviction.
type ConvictionRequest struct {
	Stakes   []conviction.StakeEvent `json:"stakes"`
	Time     int64                   `json:"time"`
	Entity   string                  `json:"entity,omitempty"`
	Alpha    float64                 `json:"alpha,omitempty"`
	TimeUnit int64                   `json:"time_unit,omitempty"`
}

// ConvictionResponse is the pure evaluation of a posted stake log.
type ConvictionResponse struct {
	Time             int64                 `json:"time"`
	Alpha            float64               `json:"alpha"`
	Conviction       float64               `json:"conviction"`
	Checkpoint       conviction.Checkpoint `json:"checkpoint"`
	Entity           string                `json:"entity,omitempty"`
	EntityConviction *float64              `json:"entity_conviction,omitempty"`
	History          []proposal.Point      `json:"history"`
}

func (s *Server) handleConviction(w http.ResponseWriter, r *http.Request) {
	var req ConvictionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params := s.engine.Params()
	if req.Alpha == 0 {
		req.Alpha = params.Decay.Alpha
	}
	if req.TimeUnit == 0 {
		req.TimeUnit = params.Decay.TimeUnit
	}
	switch {
	case req.Alpha <= 0 || req.Alpha >= 1:
		writeError(w, r, http.StatusBadRequest, "alpha must be in (0, 1)")
		return
	case req.TimeUnit < 0:
		writeError(w, r, http.StatusBadRequest, "time_unit must be > 0")
		return
	case req.TimeUnit > conviction.MaxTimeUnit:
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("time_unit must be <= %d", conviction.MaxTimeUnit))
		return
	case req.Time < 0:
		writeError(w, r, http.StatusBadRequest, "time must be >= 0")
		return
	}
	for i := 1; i < len(req.Stakes); i++ {
		if req.Stakes[i].Time < req.Stakes[i-1].Time {
			writeError(w, r, http.StatusBadRequest, "stakes must be ordered by time")
			return
		}
	}

	h := proposal.BuildHistory(proposal.Input{
		Stakes: req.Stakes,
		Now:    req.Time,
		Entity: req.Entity,
		Params: proposal.Params{Decay: conviction.DecayParams{Alpha: req.Alpha, TimeUnit: req.TimeUnit}},
	})
	past := conviction.StakesUntil(req.Stakes, req.Time)
	resp := ConvictionResponse{
		Time:       req.Time,
		Alpha:      req.Alpha,
		Conviction: conviction.CurrentConviction(past, req.Time, req.Alpha),
		Checkpoint: conviction.FromStakes(past, req.Alpha),
		History:    h.Points,
	}
	if req.Entity != "" {
		ec := conviction.CurrentConvictionByEntity(past, req.Entity, req.Time, req.Alpha)
		resp.Entity = req.Entity
		resp.EntityConviction = &ec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ledger.ErrProposalNotFound) {
		writeError(w, r, http.StatusNotFound, "proposal not found")
		return
	}
	zap.L().Error("api: engine error",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

// timeParam reads ?time=; absent means the ledger head.
func timeParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("time")
	if raw == "" {
		return -1, true
	}
	t, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || t < 0 {
		writeError(w, r, http.StatusBadRequest, "time must be a non-negative integer")
		return 0, false
	}
	return t, true
}

// floatParams collects the first parse error across several query values.
type floatParams struct {
	r   *http.Request
	err string
}

func (p *floatParams) required(name string) float64 {
	raw := p.r.URL.Query().Get(name)
	if raw == "" {
		if p.err == "" {
			p.err = name + " is required"
		}
		return 0
	}
	return p.parse(name, raw)
}

func (p *floatParams) optional(name string, def float64) float64 {
	raw := p.r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	return p.parse(name, raw)
}

func (p *floatParams) parse(name, raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil && p.err == "" {
		p.err = name + " must be a number"
	}
	return v
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, RequestID: requestIDFrom(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
