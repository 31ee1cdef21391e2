/**
 * @description
 * This file sets up the HTTP router for the ledger-service. Every route is mounted
 * under /ledger: a public health check, the user routes behind bearer JWT auth, and
 * the internal routes behind the shared API key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new Chi router and registers the ledger routes. userAuth
// authenticates end users and must store the user's id with GetUserID semantics.
func NewRouter(h *Handler, userAuth func(http.Handler) http.Handler, internalKey string, log *logrus.Entry) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", internalAPIKeyHeader},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/ledger", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("healthy"))
		})

		r.Group(func(r chi.Router) {
			r.Use(userAuth)

			r.Get("/wallet", h.handleGetWallet)
			r.Get("/wallet/transactions", h.handleListTransactions)

			r.Get("/vip/status", h.handleGetVipStatus)
			r.Post("/vip/cashback/claim", h.handleClaimCashback)

			r.Get("/referrals/code", h.handleGetReferralCode)
			r.Post("/referrals/apply", h.handleApplyReferral)
			r.Get("/referrals", h.handleListReferrals)

			r.Post("/amoe/codes", h.handleGenerateAmoeCode)
			r.Post("/amoe/entries/submit", h.handleSubmitAmoeEntry)
			r.Post("/amoe/entries/{entryID}/redeem", h.handleRedeemAmoeEntry)
			r.Get("/amoe/entries", h.handleListAmoeEntries)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(internalKey))

			r.Post("/wallets", h.handleOpenWallet)
			r.Post("/xp", h.handleAwardXp)
			r.Post("/cashback/accruals", h.handleAccrueCashback)
			r.Post("/purchases", h.handlePurchaseCompleted)
			r.Post("/referrals/{referralID}/process", h.handleProcessReferral)
			r.Post("/amoe/entries/{entryID}/approve", h.handleApproveAmoeEntry)
		})
	})

	return r
}
