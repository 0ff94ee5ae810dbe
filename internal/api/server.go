package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// NewServer creates an HTTP server with all routes configured. Mutating
// routes require adminAPIKey when it is set. metrics may be nil.
func NewServer(port string, svc Services, metrics http.Handler, adminAPIKey string) *http.Server {
	handler := NewHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/coins", handler.ListCoins)
	mux.HandleFunc("GET /api/v1/wallet", handler.GetWallet)
	mux.HandleFunc("GET /api/v1/staking", handler.GetStaking)
	mux.HandleFunc("GET /api/v1/totals", handler.GetTotals)
	mux.HandleFunc("GET /api/v1/distribution/{by}", handler.GetDistribution)
	if svc.Snapshots != nil {
		mux.HandleFunc("GET /api/v1/snapshots/latest", handler.GetLatestSnapshot)
		mux.HandleFunc("GET /api/v1/snapshots/{date}", handler.GetSnapshotByDate)
		mux.HandleFunc("GET /api/v1/snapshots", handler.ListSnapshots)
	}

	protect := func(h http.HandlerFunc) http.Handler {
		if adminAPIKey == "" {
			return h
		}
		return requireAuth(adminAPIKey, h)
	}
	mux.Handle("POST /api/v1/wallet/reconcile", protect(handler.Reconcile))
	mux.Handle("POST /api/v1/coins/refresh", protect(handler.RefreshPrices))
	mux.Handle("POST /api/v1/coins/repair-names", protect(handler.RepairNames))
	mux.Handle("POST /api/v1/staking", protect(handler.AddStaking))

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
