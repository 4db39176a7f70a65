package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/duelengine/pkg/app/core/ledger"
	"github.com/uhyunpark/duelengine/pkg/app/core/reconcile"
	"github.com/uhyunpark/duelengine/pkg/app/duel"
	"github.com/uhyunpark/duelengine/pkg/settlement"
	"github.com/uhyunpark/duelengine/pkg/storage"
)

const defaultMatchListLimit = 20

var errHistoryDisabled = errors.New("match history is not configured")

// History is the read side of match storage
type History interface {
	LoadMatch(matchID string) (duel.Record, error)
	ListMatches(limit int) ([]duel.Record, error)
	LoadProfile(participantID string) (storage.Profile, error)
}

type Config struct {
	Engine      *duel.Engine
	History     History // optional
	Verifier    *settlement.Verifier
	CORSOrigins []string
	Logger      *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine   *duel.Engine
	history  History
	verifier *settlement.Verifier
	origins  []string
	router   *mux.Router
	hub      *Hub // WebSocket hub
	logger   *zap.SugaredLogger
}

// NewServer creates a new API server and subscribes its hub to the engine
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier, _ = settlement.NewVerifier("")
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		engine:   cfg.Engine,
		history:  cfg.History,
		verifier: verifier,
		origins:  origins,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		logger:   logger,
	}
	cfg.Engine.Subscribe(s.hub)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Asset endpoints
	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/assets/select", s.handleSelectAsset).Methods("POST")

	// Match lifecycle
	api.HandleFunc("/match", s.handleGetMatch).Methods("GET")
	api.HandleFunc("/match/start", s.handleStartMatch).Methods("POST")
	api.HandleFunc("/match/practice", s.handleStartPractice).Methods("POST")
	api.HandleFunc("/match/end", s.handleEndMatch).Methods("POST")

	// Positions
	api.HandleFunc("/positions", s.handleOpenPosition).Methods("POST")
	api.HandleFunc("/positions/{id}/close", s.handleClosePosition).Methods("POST")
	api.HandleFunc("/positions/{id}/stops", s.handleUpdateStops).Methods("PATCH")

	// Limit orders
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods("DELETE")

	// Settlement service push
	api.HandleFunc("/settlement", s.handleSettlement).Methods("POST")

	// History
	api.HandleFunc("/matches", s.handleListMatches).Methods("GET")
	api.HandleFunc("/matches/{id}", s.handleGetRecord).Methods("GET")
	api.HandleFunc("/profiles/{id}", s.handleGetProfile).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	// Start WebSocket hub
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Infow("api_started", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Infow("api_stopping")
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Catalog().List())
}

func (s *Server) handleSelectAsset(w http.ResponseWriter, r *http.Request) {
	var req SelectAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := s.engine.SelectAsset(req.Index)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, a)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Snapshot())
}

func (s *Server) handleStartMatch(w http.ResponseWriter, r *http.Request) {
	var req duel.StartParams
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.engine.StartMatch(req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleStartPractice(w http.ResponseWriter, r *http.Request) {
	var req PracticeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.engine.StartPracticeMatch(req.DurationSeconds)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleEndMatch(w http.ResponseWriter, r *http.Request) {
	var req EndMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.EndMatch(req.IsForfeit); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, s.engine.Snapshot())
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req duel.OpenParams
	if !decodeBody(w, r, &req) {
		return
	}
	pos, err := s.engine.OpenPosition(req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, pos)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req CloseRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	var (
		trade ledger.Trade
		err   error
	)
	if req.Fraction == nil {
		trade, err = s.engine.ClosePosition(id)
	} else {
		trade, err = s.engine.ClosePositionPartial(id, *req.Fraction)
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, trade)
}

func (s *Server) handleUpdateStops(w http.ResponseWriter, r *http.Request) {
	var req StopsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pos, err := s.engine.UpdateStopTakeProfit(mux.Vars(r)["id"], ledger.StopUpdate{
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		ClearStopLoss:   req.ClearStopLoss,
		ClearTakeProfit: req.ClearTakeProfit,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, pos)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req LimitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := s.engine.PlaceLimitOrder(req.OpenParams, req.LimitPrice)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.CancelLimitOrder(mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, order)
}

// handleSettlement accepts the authoritative result pushed by the settlement service.
// When an authority is configured the result must carry its signature.
func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlement.Signed
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.verifier.Verify(req)
	if err != nil {
		s.logger.Warnw("settlement_signature_rejected", "match_id", req.MatchID, "err", err)
		respondErr(w, err)
		return
	}
	applied, err := s.engine.ApplySettlement(result)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, SettlementResponse{Applied: applied, Snapshot: s.engine.Snapshot()})
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondErr(w, errHistoryDisabled)
		return
	}
	limit := defaultMatchListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}
	records, err := s.history.ListMatches(limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, records)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondErr(w, errHistoryDisabled)
		return
	}
	rec, err := s.history.LoadMatch(mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondErr(w, errHistoryDisabled)
		return
	}
	p, err := s.history.LoadProfile(mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, ProfileResponse{Profile: p, WinRate: p.WinRate()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// statusOf maps domain errors onto HTTP statuses:
// 404 unknown ids, 409 match state, 401 bad attestation, 400 everything else
func statusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrPositionNotFound),
		errors.Is(err, ledger.ErrOrderNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, duel.ErrMatchNotActive),
		errors.Is(err, duel.ErrNoMatch),
		errors.Is(err, duel.ErrPracticeMatch),
		errors.Is(err, reconcile.ErrConflictingResult),
		errors.Is(err, reconcile.ErrMatchMismatch):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, errHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody that also accepts an empty body
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusOf(err)
	respondError(w, status, http.StatusText(status), err.Error())
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
