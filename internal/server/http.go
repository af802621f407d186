package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/ledger"
	"BetLedger/internal/observability"
	"BetLedger/internal/query"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// QueryBackend is what the read endpoints need. Satisfied by both
// query.QueryService and query.CachedQueryService.
type QueryBackend interface {
	GetBet(ctx context.Context, betID uint64) (*query.BetResponse, error)
	ListBets(ctx context.Context, bettor string, limit int, beforeBetID *uint64) ([]query.BetResponse, error)
	GetPlatform(ctx context.Context, currency string) (*query.PlatformResponse, error)
	GetGovernance(ctx context.Context) (*query.GovernanceResponse, error)
	GetEventHistory(ctx context.Context, betID *uint64, limit int, beforeSequence *int64) ([]query.EventHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// HTTPServer is the interactive command and query surface. High-volume
// command traffic goes through NATS; this API serves admin tooling,
// dashboards, and integrations that want a synchronous answer.
type HTTPServer struct {
	dispatcher *core.Dispatcher
	queries    QueryBackend
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewHTTPServer(
	dispatcher *core.Dispatcher,
	queries QueryBackend,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	ratePerSec float64,
	burst int,
	logger zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		dispatcher: dispatcher,
		queries:    queries,
		health:     health,
		metrics:    metrics,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:     logger,
	}
}

// Router builds the full route table.
func (s *HTTPServer) Router() http.Handler {
	mux := http.NewServeMux()

	// Commands
	mux.HandleFunc("POST /v1/bets", s.wrap("place_bet", s.placeBet))
	mux.HandleFunc("POST /v1/bets/{id}/settle", s.wrap("settle_bet", s.settleBet))
	mux.HandleFunc("POST /v1/bets/{id}/void", s.wrap("void_bet", s.voidBet))
	mux.HandleFunc("POST /v1/treasury/deposit", s.wrap("deposit", s.treasuryOp(core.OpDepositLiquidity)))
	mux.HandleFunc("POST /v1/treasury/withdraw", s.wrap("withdraw", s.treasuryOp(core.OpWithdrawFees)))
	mux.HandleFunc("POST /v1/treasury/emergency", s.wrap("emergency", s.treasuryOp(core.OpEmergencyWithdraw)))
	mux.HandleFunc("POST /v1/governance/oracles/add", s.wrap("oracle_add", s.governanceOp(core.OpAddOracle)))
	mux.HandleFunc("POST /v1/governance/oracles/remove", s.wrap("oracle_remove", s.governanceOp(core.OpRemoveOracle)))
	mux.HandleFunc("POST /v1/governance/admin/propose", s.wrap("admin_propose", s.governanceOp(core.OpProposeAdmin)))
	mux.HandleFunc("POST /v1/governance/admin/accept", s.wrap("admin_accept", s.governanceOp(core.OpAcceptAdmin)))
	mux.HandleFunc("POST /v1/governance/pause", s.wrap("pause", s.governanceOp(core.OpSetPause)))
	mux.HandleFunc("POST /v1/governance/fee", s.wrap("fee", s.updateFee))
	mux.HandleFunc("POST /v1/governance/limits", s.wrap("limits", s.updateLimits))

	// Queries
	mux.HandleFunc("GET /v1/bets/{id}", s.wrap("get_bet", s.getBet))
	mux.HandleFunc("GET /v1/bets", s.wrap("list_bets", s.listBets))
	mux.HandleFunc("GET /v1/platform/{currency}", s.wrap("get_platform", s.getPlatform))
	mux.HandleFunc("GET /v1/governance", s.wrap("get_governance", s.getGovernance))
	mux.HandleFunc("GET /v1/events", s.wrap("get_events", s.getEvents))
	mux.HandleFunc("GET /v1/integrity", s.wrap("integrity", s.verifyIntegrity))

	// Operational
	mux.HandleFunc("GET /healthz", s.health.LivenessHandler)
	mux.HandleFunc("GET /readyz", s.health.ReadinessHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// wrap applies rate limiting, request logging, and per-endpoint metrics.
func (s *HTTPServer) wrap(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.count(endpoint, "429")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		dur := time.Since(start)
		s.count(endpoint, strconv.Itoa(rec.status))
		if s.metrics != nil {
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(dur.Seconds())
		}
		s.logger.Debug().
			Str("endpoint", endpoint).
			Int("status", rec.status).
			Dur("duration", dur).
			Msg("http request")
	}
}

func (s *HTTPServer) count(endpoint, status string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ============================================================================
// Command handlers
// ============================================================================

type placeBetRequest struct {
	RequestID     string `json:"request_id"`
	Bettor        string `json:"bettor"`
	Currency      string `json:"currency"`
	Stake         int64  `json:"stake"`
	Odds          int64  `json:"odds"`
	EventRef      string `json:"event_ref"`
	MarketRef     string `json:"market_ref"`
	PredictionRef string `json:"prediction_ref"`
	ContentRef    string `json:"content_ref,omitempty"`
}

func (s *HTTPServer) placeBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RequestID == "" || req.Bettor == "" {
		writeError(w, http.StatusBadRequest, "request_id and bettor are required")
		return
	}

	betID, err := s.dispatcher.PlaceBet(r.Context(), core.PlaceBetCmd{
		RequestID:     req.RequestID,
		Bettor:        ledger.Principal(req.Bettor),
		Currency:      req.Currency,
		Stake:         req.Stake,
		Odds:          req.Odds,
		EventRef:      req.EventRef,
		MarketRef:     req.MarketRef,
		PredictionRef: req.PredictionRef,
		ContentRef:    req.ContentRef,
		Timestamp:     time.Now(),
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"bet_id": betID})
}

type settleBetRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	Won       bool   `json:"won"`
}

func (s *HTTPServer) settleBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathBetID(w, r)
	if !ok {
		return
	}
	var req settleBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RequestID == "" || req.Caller == "" {
		writeError(w, http.StatusBadRequest, "request_id and caller are required")
		return
	}

	netPayout, err := s.dispatcher.SettleBet(r.Context(), core.SettleBetCmd{
		RequestID: req.RequestID,
		Caller:    ledger.Principal(req.Caller),
		BetID:     betID,
		Won:       req.Won,
		Timestamp: time.Now(),
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bet_id": betID, "net_payout": netPayout})
}

type voidBetRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
}

func (s *HTTPServer) voidBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathBetID(w, r)
	if !ok {
		return
	}
	var req voidBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RequestID == "" || req.Caller == "" {
		writeError(w, http.StatusBadRequest, "request_id and caller are required")
		return
	}

	refunded, err := s.dispatcher.VoidBet(r.Context(), core.VoidBetCmd{
		RequestID: req.RequestID,
		Caller:    ledger.Principal(req.Caller),
		BetID:     betID,
		Timestamp: time.Now(),
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bet_id": betID, "refunded": refunded})
}

type treasuryRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	Currency  string `json:"currency"`
	Amount    int64  `json:"amount"`
}

func (s *HTTPServer) treasuryOp(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req treasuryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.RequestID == "" || req.Caller == "" {
			writeError(w, http.StatusBadRequest, "request_id and caller are required")
			return
		}

		cmd := core.TreasuryCmd{
			RequestID: req.RequestID,
			Caller:    ledger.Principal(req.Caller),
			Currency:  req.Currency,
			Amount:    req.Amount,
			Timestamp: time.Now(),
		}

		var err error
		switch op {
		case core.OpDepositLiquidity:
			err = s.dispatcher.DepositLiquidity(r.Context(), cmd)
		case core.OpWithdrawFees:
			err = s.dispatcher.WithdrawFees(r.Context(), cmd)
		default:
			err = s.dispatcher.EmergencyWithdraw(r.Context(), cmd)
		}
		if err != nil {
			writeOpError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
	}
}

type governanceRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	Principal string `json:"principal,omitempty"`
	Paused    bool   `json:"paused,omitempty"`
}

func (s *HTTPServer) governanceOp(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req governanceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.RequestID == "" || req.Caller == "" {
			writeError(w, http.StatusBadRequest, "request_id and caller are required")
			return
		}

		cmd := core.GovernanceCmd{
			RequestID: req.RequestID,
			Caller:    ledger.Principal(req.Caller),
			Principal: ledger.Principal(req.Principal),
			Paused:    req.Paused,
			Timestamp: time.Now(),
		}

		var err error
		switch op {
		case core.OpAddOracle:
			err = s.dispatcher.AddOracle(r.Context(), cmd)
		case core.OpRemoveOracle:
			err = s.dispatcher.RemoveOracle(r.Context(), cmd)
		case core.OpProposeAdmin:
			err = s.dispatcher.ProposeAdmin(r.Context(), cmd)
		case core.OpAcceptAdmin:
			err = s.dispatcher.AcceptAdmin(r.Context(), cmd)
		default:
			err = s.dispatcher.SetPause(r.Context(), cmd)
		}
		if err != nil {
			writeOpError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
	}
}

type updateFeeRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	FeeBps    int64  `json:"fee_bps"`
}

func (s *HTTPServer) updateFee(w http.ResponseWriter, r *http.Request) {
	var req updateFeeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RequestID == "" || req.Caller == "" {
		writeError(w, http.StatusBadRequest, "request_id and caller are required")
		return
	}

	err := s.dispatcher.UpdateFeeRate(r.Context(), core.UpdateFeeCmd{
		RequestID: req.RequestID,
		Caller:    ledger.Principal(req.Caller),
		FeeBps:    req.FeeBps,
		Timestamp: time.Now(),
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

type updateLimitsRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	MinBet    int64  `json:"min_bet"`
	MaxBet    int64  `json:"max_bet"`
}

func (s *HTTPServer) updateLimits(w http.ResponseWriter, r *http.Request) {
	var req updateLimitsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RequestID == "" || req.Caller == "" {
		writeError(w, http.StatusBadRequest, "request_id and caller are required")
		return
	}

	err := s.dispatcher.UpdateLimits(r.Context(), core.UpdateLimitsCmd{
		RequestID: req.RequestID,
		Caller:    ledger.Principal(req.Caller),
		MinBet:    req.MinBet,
		MaxBet:    req.MaxBet,
		Timestamp: time.Now(),
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

// ============================================================================
// Query handlers
// ============================================================================

func (s *HTTPServer) getBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathBetID(w, r)
	if !ok {
		return
	}

	resp, err := s.queries.GetBet(r.Context(), betID)
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bet not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) listBets(w http.ResponseWriter, r *http.Request) {
	bettor := r.URL.Query().Get("bettor")
	if bettor == "" {
		writeError(w, http.StatusBadRequest, "bettor query parameter is required")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	var before *uint64
	if v := r.URL.Query().Get("before"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = &id
	}

	bets, err := s.queries.ListBets(r.Context(), bettor, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets, "count": len(bets)})
}

func (s *HTTPServer) getPlatform(w http.ResponseWriter, r *http.Request) {
	currency := r.PathValue("currency")
	resp, err := s.queries.GetPlatform(r.Context(), currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getGovernance(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetGovernance(r.Context())
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "governance state not seeded")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))

	var betID *uint64
	if v := r.URL.Query().Get("bet_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid bet_id")
			return
		}
		betID = &id
	}

	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = &seq
	}

	entries, err := s.queries.GetEventHistory(r.Context(), betID, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries, "count": len(entries)})
}

func (s *HTTPServer) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "integrity check failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func pathBetID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return 0, false
	}
	return id, true
}

func parseLimit(v string) int {
	const defaultLimit, maxLimit = 50, 500
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeOpError maps core rejection sentinels onto HTTP status codes.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUnknownBet):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrDuplicateRequest),
		errors.Is(err, core.ErrAlreadySettled),
		errors.Is(err, core.ErrPlatformPaused),
		errors.Is(err, core.ErrPlatformNotPaused),
		errors.Is(err, core.ErrInsufficientLiquidity):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrBelowMinimum),
		errors.Is(err, core.ErrAboveMaximum),
		errors.Is(err, core.ErrInvalidOdds),
		errors.Is(err, core.ErrUnknownCurrency):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "operation interrupted")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
