package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/identity"
	"github.com/cryptofolio/tracker/internal/market"
	"github.com/cryptofolio/tracker/internal/reconcile"
	"github.com/cryptofolio/tracker/internal/snapshot"
	"github.com/cryptofolio/tracker/internal/staking"
	"github.com/cryptofolio/tracker/internal/store"
	"github.com/cryptofolio/tracker/internal/valuation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// CoinService lists and maintains the coin registry.
type CoinService interface {
	ListCoins(ctx context.Context, sort store.Sort) ([]domain.CoinRecord, error)
	RefreshPrices(ctx context.Context) (market.RefreshSummary, error)
	RepairNames(ctx context.Context) (identity.RepairSummary, error)
}

// ValuationService builds portfolio views.
type ValuationService interface {
	Totals(ctx context.Context) (valuation.PortfolioTotals, error)
	WalletView(ctx context.Context, sort store.Sort) ([]valuation.WalletRow, valuation.PortfolioTotals, error)
	StakingView(ctx context.Context, sort store.Sort) ([]valuation.StakingRow, valuation.PortfolioTotals, error)
}

// Reconciler runs a reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) (reconcile.Summary, error)
}

// StakingService records staked positions.
type StakingService interface {
	AddPosition(ctx context.Context, req staking.AddRequest) (domain.StakedPosition, error)
}

// DistributionService groups positions by chain or protocol.
type DistributionService interface {
	Distribution(ctx context.Context, by string) ([]store.DistributionEntry, error)
}

// SnapshotService serves stored daily snapshots.
type SnapshotService interface {
	GetLatest(ctx context.Context) (*snapshot.Snapshot, error)
	GetByDate(ctx context.Context, date time.Time) (*snapshot.Snapshot, error)
	List(ctx context.Context, limit int) ([]snapshot.Snapshot, error)
}

// Services bundles the dependencies of Handler.
type Services struct {
	Coins        CoinService
	Valuation    ValuationService
	Reconciler   Reconciler
	Staking      StakingService
	Distribution DistributionService
	Snapshots    SnapshotService // optional
}

// Handler provides HTTP endpoints for the portfolio API.
type Handler struct {
	svc Services
}

// NewHandler creates a new API handler.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

// WalletResponse is the body of GET /api/v1/wallet.
type WalletResponse struct {
	Positions []valuation.WalletRow     `json:"positions"`
	Totals    valuation.PortfolioTotals `json:"totals"`
}

// StakingResponse is the body of GET /api/v1/staking.
type StakingResponse struct {
	Positions []valuation.StakingRow    `json:"positions"`
	Totals    valuation.PortfolioTotals `json:"totals"`
}

// parseSort applies parse and falls back to its default on invalid input.
func parseSort(r *http.Request, parse func(column, direction string) (store.Sort, error)) store.Sort {
	q := r.URL.Query()
	sort, err := parse(q.Get("sort"), q.Get("dir"))
	if err != nil {
		slog.Warn("invalid sort, using default", "path", r.URL.Path, "error", err)
	}
	return sort
}

// ListCoins handles GET /api/v1/coins.
func (h *Handler) ListCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := h.svc.Coins.ListCoins(r.Context(), parseSort(r, store.ParseCoinSort))
	writeResult(w, r, http.StatusOK, coins, err)
}

// GetWallet handles GET /api/v1/wallet.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	rows, totals, err := h.svc.Valuation.WalletView(r.Context(), parseSort(r, store.ParseWalletSort))
	writeResult(w, r, http.StatusOK, WalletResponse{Positions: rows, Totals: totals}, err)
}

// GetStaking handles GET /api/v1/staking.
func (h *Handler) GetStaking(w http.ResponseWriter, r *http.Request) {
	rows, totals, err := h.svc.Valuation.StakingView(r.Context(), parseSort(r, store.ParseStakingSort))
	writeResult(w, r, http.StatusOK, StakingResponse{Positions: rows, Totals: totals}, err)
}

// GetTotals handles GET /api/v1/totals.
func (h *Handler) GetTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.svc.Valuation.Totals(r.Context())
	writeResult(w, r, http.StatusOK, totals, err)
}

// GetDistribution handles GET /api/v1/distribution/{by}.
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Distribution.Distribution(r.Context(), r.PathValue("by"))
	writeResult(w, r, http.StatusOK, entries, err)
}

// Reconcile handles POST /api/v1/wallet/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Reconciler.Run(r.Context())
	writeResult(w, r, http.StatusOK, summary, err)
}

// RefreshPrices handles POST /api/v1/coins/refresh.
func (h *Handler) RefreshPrices(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Coins.RefreshPrices(r.Context())
	writeResult(w, r, http.StatusOK, summary, err)
}

// RepairNames handles POST /api/v1/coins/repair-names.
func (h *Handler) RepairNames(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Coins.RepairNames(r.Context())
	writeResult(w, r, http.StatusOK, summary, err)
}

// AddStaking handles POST /api/v1/staking.
func (h *Handler) AddStaking(w http.ResponseWriter, r *http.Request) {
	var req staking.AddRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Err[any](domain.NewValidationError("body", "invalid JSON: %v", err)))
		return
	}
	pos, err := h.svc.Staking.AddPosition(r.Context(), req)
	writeResult(w, r, http.StatusCreated, pos, err)
}

// GetLatestSnapshot handles GET /api/v1/snapshots/latest.
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Snapshots.GetLatest(r.Context())
	writeResult(w, r, http.StatusOK, s, err)
}

// GetSnapshotByDate handles GET /api/v1/snapshots/{date}.
func (h *Handler) GetSnapshotByDate(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse(time.DateOnly, r.PathValue("date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Err[any](domain.NewValidationError("date", "expected YYYY-MM-DD")))
		return
	}
	s, err := h.svc.Snapshots.GetByDate(r.Context(), date)
	writeResult(w, r, http.StatusOK, s, err)
}

// ListSnapshots handles GET /api/v1/snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	const maxLimit = 365
	limit := 30
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxLimit)
		}
	}
	snapshots, err := h.svc.Snapshots.List(r.Context(), limit)
	writeResult(w, r, http.StatusOK, snapshots, err)
}

// statusFor maps a service error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPassInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProvider), errors.Is(err, domain.ErrRateLimited):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes data in a success envelope, or err in a failure envelope.
// Internal errors are logged and reported generically.
func writeResult[T any](w http.ResponseWriter, r *http.Request, status int, data T, err error) {
	if err == nil {
		writeJSON(w, status, domain.Ok(data))
		return
	}
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, code, "internal error")
		return
	}
	slog.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	writeJSON(w, code, domain.Err[any](err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"success":false,"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.Result[any]{Success: false, Error: msg})
}
