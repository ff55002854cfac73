// Package gateway exposes the pool engine over HTTP: JSON command and query
// routes, Prometheus metrics, and JWT-guarded administration. It also plays
// the transactional host for local deployments, serialising operations and
// stamping the block context (one block per second of wall clock).
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bondmm/events"
	"bondmm/fixedpoint"
	"bondmm/observability"
	"bondmm/oracle"
	"bondmm/pool"
	"bondmm/pricing"
)

const requestLimit = 1 << 20 // 1 MiB

// Options configure the gateway surface.
type Options struct {
	// JWTSecret signs admin bearer tokens. Empty disables admin routes.
	JWTSecret string
	// RateLimitPerMin bounds mutating calls per caller address. Zero
	// disables throttling.
	RateLimitPerMin int
}

// Server wires the pool engine into an HTTP handler.
type Server struct {
	mu       sync.Mutex
	engine   *pool.Engine
	recorder *events.Recorder
	logger   *slog.Logger
	router   chi.Router
	limits   *callerLimits
	clock    func() time.Time
}

// New constructs the gateway around an engine. The recorder may be nil.
func New(engine *pool.Engine, recorder *events.Recorder, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   engine,
		recorder: recorder,
		logger:   logger,
		limits:   newCallerLimits(opts.RateLimitPerMin),
		clock:    time.Now,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pool", s.handlePool)
		r.Get("/positions/{id}", s.handlePosition)
		r.Get("/events", s.handleEvents)

		r.Post("/initialize", s.mutating(s.handleInitialize))
		r.Post("/lend", s.mutating(s.handleLend))
		r.Post("/borrow", s.mutating(s.handleBorrow))
		r.Post("/redeem", s.mutating(s.handleRedeem))
		r.Post("/repay", s.mutating(s.handleRepay))
		r.Post("/liquidate", s.mutating(s.handleLiquidate))

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin([]byte(opts.JWTSecret), logger))
			r.Post("/pause", s.admin(s.handlePause))
			r.Post("/unpause", s.admin(s.handleUnpause))
			r.Post("/params/{name}", s.admin(s.handleSetParam))
		})
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.router.ServeHTTP(w, r)
	observability.PoolMetrics().ObserveRequest(r.URL.Path, time.Since(start))
}

// SetClock replaces the wall clock. Test hook.
func (s *Server) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// mutating serialises engine access, stamps the block context and applies the
// per-caller rate limit before invoking the handler.
func (s *Server) mutating(fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, requestLimit)
		s.mu.Lock()
		defer s.mu.Unlock()
		now := uint64(s.clock().Unix())
		s.engine.SetBlockContext(now, now)
		fn(w, r)
	}
}

func (s *Server) admin(fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, requestLimit)
		s.mu.Lock()
		defer s.mu.Unlock()
		fn(w, r)
	}
}

type lendRequest struct {
	From     string `json:"from"`
	Amount   string `json:"amount"`
	Maturity uint64 `json:"maturity"`
}

type borrowRequest struct {
	From       string `json:"from"`
	Amount     string `json:"amount"`
	Maturity   uint64 `json:"maturity"`
	Collateral string `json:"collateral"`
}

type positionRequest struct {
	From       string `json:"from"`
	PositionID uint64 `json:"positionId"`
}

type initializeRequest struct {
	From        string `json:"from"`
	InitialCash string `json:"initialCash"`
}

type idResponse struct {
	PositionID uint64 `json:"positionId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.engine.Snapshot()
	params := s.engine.Params()
	payload := map[string]any{
		"cash":           snapshot.Cash.String(),
		"pvBonds":        snapshot.PVBonds.String(),
		"netLiabilities": snapshot.NetLiabilities.String(),
		"initialCash":    snapshot.InitialCash.String(),
		"lastAccrual":    snapshot.LastAccrual,
		"paused":         snapshot.Paused,
		"initialized":    snapshot.Initialized,
		"solvent":        s.engine.CheckSolvency(),
		"params": map[string]any{
			"minMaturitySeconds": params.MinMaturity,
			"maxMaturitySeconds": params.MaxMaturity,
			"collateralRatio":    params.CollateralRatio.String(),
			"solvencyThreshold":  params.SolvencyThreshold.String(),
			"gracePeriodSeconds": params.GracePeriod,
			"liquidationPenalty": params.LiquidationPenalty.String(),
		},
	}
	if rate, err := s.engine.CurrentRate(); err == nil {
		payload["currentRate"] = rate.String()
	}
	if anchor, err := s.engine.AnchorRate(); err == nil {
		payload["anchorRate"] = anchor.String()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	s.mu.Lock()
	position, err := s.engine.GetPosition(id)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         position.ID,
		"owner":      position.Owner.Hex(),
		"faceValue":  position.FaceValue.String(),
		"maturity":   position.Maturity,
		"collateral": position.Collateral.String(),
		"initialPv":  position.InitialPV.String(),
		"createdAt":  position.CreatedAt,
		"isBorrow":   position.IsBorrow,
		"active":     position.Active,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]events.Record, 0)
	if s.recorder != nil {
		for _, e := range s.recorder.Events {
			records = append(records, e.Record())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	caller, amount, ok := s.parseCallerAmount(w, req.From, req.InitialCash)
	if !ok {
		return
	}
	if err := s.engine.Initialize(caller, amount); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

func (s *Server) handleLend(w http.ResponseWriter, r *http.Request) {
	var req lendRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	caller, amount, ok := s.parseCallerAmount(w, req.From, req.Amount)
	if !ok {
		return
	}
	if !s.limits.allow(caller) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	id, err := s.engine.Lend(caller, amount, req.Maturity)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{PositionID: id})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	caller, amount, ok := s.parseCallerAmount(w, req.From, req.Amount)
	if !ok {
		return
	}
	collateral, err := fixedpoint.FromDecimal(req.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collateral")
		return
	}
	if !s.limits.allow(caller) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	id, err := s.engine.Borrow(caller, amount, req.Maturity, collateral)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{PositionID: id})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	s.handleSettlement(w, r, s.engine.Redeem)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.handleSettlement(w, r, s.engine.Repay)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	s.handleSettlement(w, r, s.engine.Liquidate)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request, op func(common.Address, uint64) error) {
	var req positionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.From) {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	caller := common.HexToAddress(req.From)
	if !s.limits.allow(caller) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	if err := op(caller, req.PositionID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.engine.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request) {
	s.engine.Unpause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "unpaused"})
}

type paramRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	var req paramRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	err := s.applyParam(name, req.Value)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "name": name})
}

func (s *Server) applyParam(name, value string) error {
	switch name {
	case "min-maturity":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return pool.ErrInvalidParam
		}
		return s.engine.SetMinMaturity(v)
	case "max-maturity":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return pool.ErrInvalidParam
		}
		return s.engine.SetMaxMaturity(v)
	case "grace-period":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return pool.ErrInvalidParam
		}
		return s.engine.SetGracePeriod(v)
	case "collateral-ratio":
		v, err := fixedpoint.FromDecimal(value)
		if err != nil {
			return pool.ErrInvalidParam
		}
		return s.engine.SetCollateralRatio(v)
	case "solvency-threshold":
		v, err := fixedpoint.FromDecimal(value)
		if err != nil {
			return pool.ErrInvalidParam
		}
		return s.engine.SetSolvencyThreshold(v)
	case "liquidation-penalty":
		v, err := fixedpoint.FromDecimal(value)
		if err != nil {
			return pool.ErrInvalidParam
		}
		return s.engine.SetLiquidationPenalty(v)
	case "fallback-rate":
		v, err := fixedpoint.FromDecimal(value)
		if err != nil {
			return pool.ErrInvalidParam
		}
		return s.engine.SetFallbackRate(v)
	default:
		return pool.ErrInvalidParam
	}
}

func (s *Server) parseCallerAmount(w http.ResponseWriter, from, amount string) (common.Address, fixedpoint.Dec, bool) {
	if !common.IsHexAddress(from) {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return common.Address{}, fixedpoint.Dec{}, false
	}
	value, err := fixedpoint.FromDecimal(amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return common.Address{}, fixedpoint.Dec{}, false
	}
	return common.HexToAddress(from), value, true
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrNotInitialized),
		errors.Is(err, pool.ErrAlreadyInitialized),
		errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidMaturity),
		errors.Is(err, pool.ErrCollateralTooLow),
		errors.Is(err, pool.ErrInvalidParam),
		errors.Is(err, pricing.ErrTimeTooSmall),
		errors.Is(err, pricing.ErrInvalidTrade),
		errors.Is(err, oracle.ErrFallbackTooHigh):
		status = http.StatusBadRequest
	case errors.Is(err, pool.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, pool.ErrNotActive):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrPaused),
		errors.Is(err, pool.ErrNotMature),
		errors.Is(err, pool.ErrGraceNotExpired),
		errors.Is(err, pool.ErrFlashLoanDetected),
		errors.Is(err, pool.ErrInsufficientCash),
		errors.Is(err, pool.ErrInsolvent),
		errors.Is(err, pool.ErrWrongPositionKind),
		errors.Is(err, pool.ErrLedgerTransfer):
		status = http.StatusConflict
	case errors.Is(err, oracle.ErrStale):
		status = http.StatusServiceUnavailable
	}
	s.logger.Warn("operation rejected", "error", err.Error(), "status", status)
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
