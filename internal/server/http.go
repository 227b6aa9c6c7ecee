package server

import (
	"GasFutures/internal/core"
	"GasFutures/internal/ingestion"
	"GasFutures/internal/observability"
	"GasFutures/internal/query"
	"GasFutures/internal/state"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPageSize  = 50
	maxPageSize      = 500
	defaultBookDepth = 20
)

// Deps is what the HTTP API reads from and writes to. Queries may be nil
// when Postgres history is not served.
type Deps struct {
	Exchange   *core.Exchange
	Dispatcher *ingestion.Dispatcher
	Queries    *query.QueryService
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

type api struct {
	Deps
}

type route struct {
	method  string
	pattern string
	name    string
	handler runtime.HandlerFunc
}

// NewGateway builds the JSON API on a grpc-gateway ServeMux.
func NewGateway(deps Deps) (*runtime.ServeMux, error) {
	a := &api{Deps: deps}
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodGet, "/v1/markets", "list_markets", a.listMarkets},
		{http.MethodGet, "/v1/markets/{symbol}", "get_market", a.getMarket},
		{http.MethodGet, "/v1/markets/{symbol}/book", "get_book", a.getBook},
		{http.MethodGet, "/v1/markets/{symbol}/positions/{owner}", "get_position", a.getPosition},
		{http.MethodGet, "/v1/markets/{symbol}/settlement", "get_settlement", a.getSettlement},
		{http.MethodGet, "/v1/markets/{symbol}/fills", "list_fills", a.listFills},
		{http.MethodGet, "/v1/accounts/{owner}/balance", "get_balance", a.getBalance},
		{http.MethodGet, "/v1/accounts/{owner}/journals", "list_journals", a.listJournals},
		{http.MethodGet, "/v1/admin/integrity", "verify_integrity", a.verifyIntegrity},
		{http.MethodPost, "/v1/commands/{type}", "submit_command", a.submitCommand},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.name, r.handler)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *api) instrument(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)
		if a.Metrics != nil {
			a.Metrics.QueryRequests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
			a.Metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

// --- live state ---

func (a *api) listMarkets(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]any{"markets": a.Exchange.Markets()})
}

func (a *api) getMarket(w http.ResponseWriter, _ *http.Request, p map[string]string) {
	view, err := a.Exchange.Market(p["symbol"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) getBook(w http.ResponseWriter, r *http.Request, p map[string]string) {
	levels, err := intParam(r, "levels", defaultBookDepth, maxPageSize)
	if err != nil {
		a.writeError(w, err)
		return
	}
	depth, err := a.Exchange.Depth(p["symbol"], levels)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}

func (a *api) getPosition(w http.ResponseWriter, _ *http.Request, p map[string]string) {
	owner, err := parseOwner(p["owner"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	view, err := a.Exchange.Position(p["symbol"], owner)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) getSettlement(w http.ResponseWriter, _ *http.Request, p map[string]string) {
	rec, err := a.Exchange.Settlement(p["symbol"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) getBalance(w http.ResponseWriter, _ *http.Request, p map[string]string) {
	owner, err := parseOwner(p["owner"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Exchange.Balance(owner))
}

// --- persisted history ---

func (a *api) listFills(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if !a.historyEnabled(w) {
		return
	}
	if _, err := a.Exchange.Market(p["symbol"]); err != nil {
		a.writeError(w, err)
		return
	}
	limit, before, err := pageParams(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var owner *uuid.UUID
	if s := r.URL.Query().Get("owner"); s != "" {
		id, err := parseOwner(s)
		if err != nil {
			a.writeError(w, err)
			return
		}
		owner = &id
	}

	page, err := a.Queries.Fills(r.Context(), p["symbol"], owner, limit, before)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *api) listJournals(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if !a.historyEnabled(w) {
		return
	}
	owner, err := parseOwner(p["owner"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	limit, before, err := pageParams(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	page, err := a.Queries.Journals(r.Context(), owner, limit, before)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *api) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.historyEnabled(w) {
		return
	}
	report, err := a.Queries.VerifyIntegrity(r.Context(), a.Exchange.Checkpoint())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if ledgerErr := a.Exchange.ValidateLedger(); ledgerErr != nil {
		report.IsHealthy = false
		a.Logger.Error().Err(ledgerErr).Msg("live ledger failed validation")
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) historyEnabled(w http.ResponseWriter) bool {
	if a.Queries != nil {
		return true
	}
	writeJSON(w, runtime.HTTPStatusFromCode(codes.Unimplemented), errorBody{
		Code:    codes.Unimplemented.String(),
		Message: "history queries are not configured",
	})
	return false
}

// --- commands ---

// CommandResponse is the outcome of an accepted command.
type CommandResponse struct {
	LogSeq     int64                   `json:"log_seq"`
	Events     []string                `json:"events"`
	Order      *core.OrderResult       `json:"order,omitempty"`
	Settlement *state.SettlementRecord `json:"settlement,omitempty"`
}

func (a *api) submitCommand(w http.ResponseWriter, r *http.Request, p map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: read body: %v", errBadRequest, err))
		return
	}
	cmd, err := ingestion.ParseCommand(p["type"], body)
	if err != nil {
		if !errors.Is(err, ingestion.ErrUnknownCommandType) {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
		}
		a.writeError(w, err)
		return
	}

	res, err := a.Dispatcher.Submit(r.Context(), cmd)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse(res))
}

func commandResponse(res *core.Result) CommandResponse {
	out := CommandResponse{Events: []string{}}
	if res == nil {
		return out
	}
	out.LogSeq = res.LogSeq
	out.Order = res.Order
	out.Settlement = res.Settlement
	for _, e := range res.Events {
		out.Events = append(out.Events, e.EventType().String())
	}
	return out
}

// --- helpers ---

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	code := codeFor(err)
	status := runtime.HTTPStatusFromCode(code)
	if status >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Code: code.String(), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseOwner(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: owner %q: %v", errBadRequest, s, err)
	}
	return id, nil
}

func intParam(r *http.Request, name string, def, max int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return min(n, max), nil
}

func pageParams(r *http.Request) (int, int64, error) {
	limit, err := intParam(r, "limit", defaultPageSize, maxPageSize)
	if err != nil {
		return 0, 0, err
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	var before int64
	if s := r.URL.Query().Get("before"); s != "" {
		if before, err = strconv.ParseInt(s, 10, 64); err != nil || before < 0 {
			return 0, 0, fmt.Errorf("%w: before must be a log sequence", errBadRequest)
		}
	}
	return limit, before, nil
}
