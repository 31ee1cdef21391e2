/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers parse incoming requests, call the reward engines on the application
 * service, and map typed domain errors to HTTP status codes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/go-playground/validator/v10 (via pkg/validation): request validation.
 * - internal/app, internal/domain: service logic and error taxonomy.
 */

package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/app"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/pkg/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler holds the application service that handlers will use.
type Handler struct {
	service *app.Service
	log     *logrus.Entry
}

func NewHandler(service *app.Service, log *logrus.Entry) *Handler {
	return &Handler{service: service, log: log}
}

type applyReferralRequest struct {
	Code string `json:"code" validate:"required,min=4,max=32"`
}

type submitEntryRequest struct {
	Code          string               `json:"code" validate:"required,max=32"`
	PostalAddress domain.PostalAddress `json:"postal_address" validate:"-"`
}

type userRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

type awardXpRequest struct {
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	Amount      string    `json:"amount" validate:"required,numeric"`
	Source      string    `json:"source" validate:"required,max=64"`
	ReferenceID string    `json:"reference_id" validate:"max=128"`
}

type accrueCashbackRequest struct {
	UserID     uuid.UUID       `json:"user_id" validate:"required"`
	LossAmount decimal.Decimal `json:"loss_amount"`
	RoundID    string          `json:"round_id" validate:"required,max=128"`
}

type purchaseRequest struct {
	UserID uuid.UUID       `json:"user_id" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type qualificationResponse struct {
	Qualified bool                      `json:"qualified"`
	Result    *app.ReferralRewardResult `json:"result,omitempty"`
}

// --- user routes ---

func (h *Handler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	wallet, err := h.service.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "offset must be an integer")
		return
	}
	txs, err := h.service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

func (h *Handler) handleGetVipStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	status, err := h.service.GetVipStatus(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleClaimCashback(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	tx, err := h.service.ClaimCashback(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) handleGetReferralCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	code, err := h.service.EnsureReferralCode(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (h *Handler) handleApplyReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req applyReferralRequest
	if !h.decode(w, r, &req) {
		return
	}
	referral, err := h.service.ApplyReferralCode(r.Context(), userID, req.Code)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, referral)
}

func (h *Handler) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	referrals, err := h.service.ListReferrals(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"referrals": referrals})
}

func (h *Handler) handleGenerateAmoeCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	entry, err := h.service.GenerateCode(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleSubmitAmoeEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req submitEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.SubmitEntry(r.Context(), userID, req.Code, req.PostalAddress)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleRedeemAmoeEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	entryID, ok := urlUUID(w, r, "entryID")
	if !ok {
		return
	}
	redemption, err := h.service.RedeemEntry(r.Context(), userID, entryID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}

func (h *Handler) handleListAmoeEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListEntries(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// --- internal routes ---

func (h *Handler) handleOpenWallet(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !h.decode(w, r, &req) {
		return
	}
	wallet, err := h.service.OpenWallet(r.Context(), req.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (h *Handler) handleAwardXp(w http.ResponseWriter, r *http.Request) {
	var req awardXpRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		h.writeServiceError(w, r, domain.ErrInvalidXpAmount.WithMessage("xp amount must be an integer"))
		return
	}
	result, err := h.service.AwardXp(r.Context(), req.UserID, amount, req.Source, req.ReferenceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAccrueCashback(w http.ResponseWriter, r *http.Request) {
	var req accrueCashbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	accrual, err := h.service.AccumulateCashback(r.Context(), req.UserID, req.LossAmount, req.RoundID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accrual)
}

func (h *Handler) handlePurchaseCompleted(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() {
		h.writeServiceError(w, r, domain.ErrInvalidAmount.WithMessage("purchase amount must be positive"))
		return
	}
	result, err := h.service.CheckAndProcessReferralQualification(r.Context(), req.UserID, req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qualificationResponse{Qualified: result != nil, Result: result})
}

func (h *Handler) handleProcessReferral(w http.ResponseWriter, r *http.Request) {
	referralID, ok := urlUUID(w, r, "referralID")
	if !ok {
		return
	}
	result, err := h.service.ProcessReferralReward(r.Context(), referralID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleApproveAmoeEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := urlUUID(w, r, "entryID")
	if !ok {
		return
	}
	entry, err := h.service.ApproveEntry(r.Context(), entryID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// --- helpers ---

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return false
	}
	if err := validation.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Validation failed",
			"code":    "validation_failed",
			"details": validation.FormatValidationError(err),
		})
		return false
	}
	return true
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", param+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var de *domain.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindCapacity:
		return http.StatusTooManyRequests
	case domain.KindConflict:
		if domain.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	var de *domain.Error
	if status == http.StatusInternalServerError || !errors.As(err, &de) {
		h.log.WithFields(logrus.Fields{"path": r.URL.Path, "method": r.Method}).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, de.Code, de.Message)
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
