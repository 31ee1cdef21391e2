package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/app"
	"github.com/neonplay/ledger-service/internal/config"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/internal/ledger"
	"github.com/neonplay/ledger-service/internal/store"
	"github.com/neonplay/ledger-service/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInternalKey = "internal-secret"

type apiEnv struct {
	router http.Handler
	key    *rsa.PrivateKey
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	log := logger.Discard()
	repo := store.NewMemoryRepository()
	settler := ledger.NewSettler(repo, ledger.SettlerConfig{MaxAttempts: 3}, log)
	rewards := config.RewardConfig{
		QualificationThreshold: decimal.RequireFromString("20"),
		ReferrerReward:         decimal.RequireFromString("10"),
		ReferredReward:         decimal.RequireFromString("5"),
		ReferralCurrency:       domain.CurrencySC,
		CashbackCurrency:       domain.CurrencyUSDC,
		AmoeDailyLimit:         1,
		AmoeWeeklyLimit:        5,
		AmoeRewardAmount:       decimal.RequireFromString("5"),
		AmoeRewardCurrency:     domain.CurrencySC,
		AmoeCodeTTL:            720 * time.Hour,
	}
	svc := app.NewService(repo, settler, rewards, nil, log)
	require.NoError(t, svc.SyncTiers(context.Background(), []domain.VipTier{
		{Name: "Bronze", Level: 1, MinXp: big.NewInt(0), CashbackPercent: decimal.Zero},
		{Name: "Silver", Level: 2, MinXp: big.NewInt(500), CashbackPercent: decimal.RequireFromString("5")},
	}))

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyFunc := func(*jwt.Token) (interface{}, error) { return &key.PublicKey, nil }
	auth := JWTAuthMiddleware(keyFunc, AuthOptions{Audience: "neonplay", Issuer: "https://auth.neonplay.test"})

	return &apiEnv{
		router: NewRouter(NewHandler(svc, log), auth, testInternalKey, log),
		key:    key,
	}
}

func (e *apiEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	return signToken(t, e.key, jwt.RegisteredClaims{
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{"neonplay"},
		Issuer:    "https://auth.neonplay.test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

// do sends a request; user may be uuid.Nil for internal or anonymous calls.
func (e *apiEnv) do(t *testing.T, method, path string, user uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, user))
	} else {
		req.Header.Set(internalAPIKeyHeader, testInternalKey)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) openWallet(t *testing.T) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	rec := e.do(t, http.MethodPost, "/ledger/internal/wallets", uuid.Nil, map[string]string{"user_id": userID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return userID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	code, _ := body["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())
}

func TestInternalRoutes_RequireKey(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/ledger/internal/wallets", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/ledger/internal/wallets", bytes.NewBufferString(`{}`))
	req.Header.Set(internalAPIKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalAuthMiddleware_DisabledWithoutKey(t *testing.T) {
	handler := InternalAuthMiddleware("  ")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(internalAPIKeyHeader, "anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "internal_api_disabled", errorCode(t, rec))
}

func TestGetWallet(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.openWallet(t)

	rec := env.do(t, http.MethodGet, "/ledger/wallet", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var wallet domain.Wallet
	decodeBody(t, rec, &wallet)
	assert.Equal(t, userID, wallet.UserID)
	assert.True(t, wallet.SCBalance.IsZero())

	rec = env.do(t, http.MethodGet, "/ledger/wallet", uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "wallet_not_found", errorCode(t, rec))
}

func TestListTransactions_RejectsBadQuery(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.openWallet(t)

	rec := env.do(t, http.MethodGet, "/ledger/wallet/transactions?limit=ten", userID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/ledger/wallet/transactions?limit=5&offset=0", userID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReferralFlow(t *testing.T) {
	env := newAPIEnv(t)
	referrer := env.openWallet(t)
	referred := env.openWallet(t)

	rec := env.do(t, http.MethodGet, "/ledger/referrals/code", referrer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var code domain.ReferralCode
	decodeBody(t, rec, &code)
	require.NotEmpty(t, code.Code)

	rec = env.do(t, http.MethodPost, "/ledger/referrals/apply", referred, map[string]string{"code": code.Code})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/ledger/referrals/apply", referred, map[string]string{"code": code.Code})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "referral_already_applied", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/ledger/internal/purchases", uuid.Nil, map[string]string{
		"user_id": referred.String(),
		"amount":  "25",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Qualified bool `json:"qualified"`
	}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Qualified)

	rec = env.do(t, http.MethodGet, "/ledger/wallet", referrer, nil)
	var wallet domain.Wallet
	decodeBody(t, rec, &wallet)
	assert.True(t, wallet.SCBalance.Equal(decimal.RequireFromString("10")), "referrer balance %s", wallet.SCBalance)

	rec = env.do(t, http.MethodGet, "/ledger/referrals", referrer, nil)
	var list struct {
		Referrals []domain.Referral `json:"referrals"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Referrals, 1)
	assert.Equal(t, domain.ReferralStatusRewarded, list.Referrals[0].Status)
}

func TestApplyReferral_ValidationFailure(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.openWallet(t)

	rec := env.do(t, http.MethodPost, "/ledger/referrals/apply", userID, map[string]string{"code": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/ledger/referrals/apply", userID, map[string]string{"code": "ABCD", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", errorCode(t, rec))
}

func TestAmoeFlow(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.openWallet(t)

	rec := env.do(t, http.MethodPost, "/ledger/amoe/codes", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entry domain.AmoeEntry
	decodeBody(t, rec, &entry)

	bad := domain.PostalAddress{FullName: "Ada", Line1: "1 Way", City: "Austin", State: "TX", PostalCode: "!", Country: "US"}
	rec = env.do(t, http.MethodPost, "/ledger/amoe/entries/submit", userID, submitEntryRequest{Code: entry.Code, PostalAddress: bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_postal_address", errorCode(t, rec))

	good := bad
	good.PostalCode = "78701"
	rec = env.do(t, http.MethodPost, "/ledger/amoe/entries/submit", userID, submitEntryRequest{Code: entry.Code, PostalAddress: good})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	redeemPath := fmt.Sprintf("/ledger/amoe/entries/%s/redeem", entry.ID)
	rec = env.do(t, http.MethodPost, redeemPath, userID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "amoe_not_approved", errorCode(t, rec))

	approvePath := fmt.Sprintf("/ledger/internal/amoe/entries/%s/approve", entry.ID)
	rec = env.do(t, http.MethodPost, approvePath, uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, approvePath, uuid.Nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, redeemPath, userID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/ledger/wallet", userID, nil)
	var wallet domain.Wallet
	decodeBody(t, rec, &wallet)
	assert.True(t, wallet.SCBalance.Equal(decimal.RequireFromString("5")))

	rec = env.do(t, http.MethodPost, "/ledger/amoe/codes", userID, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "amoe_daily_limit", errorCode(t, rec))
}

func TestRedeemAmoeEntry_BadID(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.openWallet(t)

	rec := env.do(t, http.MethodPost, "/ledger/amoe/entries/not-a-uuid/redeem", userID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", errorCode(t, rec))
}

func TestAwardXp(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.openWallet(t)

	body := map[string]string{"user_id": userID.String(), "amount": "600", "source": "game_round", "reference_id": "round-1"}
	rec := env.do(t, http.MethodPost, "/ledger/internal/xp", uuid.Nil, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Upgraded bool `json:"upgraded"`
	}
	decodeBody(t, rec, &result)
	assert.True(t, result.Upgraded)

	rec = env.do(t, http.MethodPost, "/ledger/internal/xp", uuid.Nil, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "xp_already_awarded", errorCode(t, rec))

	body["amount"] = "1.5"
	body["reference_id"] = "round-2"
	rec = env.do(t, http.MethodPost, "/ledger/internal/xp", uuid.Nil, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_xp_amount", errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/ledger/vip/status", userID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccrueCashback_SameRoundOnce(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.openWallet(t)

	body := map[string]string{"user_id": userID.String(), "loss_amount": "100", "round_id": "round-9"}
	rec := env.do(t, http.MethodPost, "/ledger/internal/cashback/accruals", uuid.Nil, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/ledger/internal/cashback/accruals", uuid.Nil, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cashback_already_accrued", errorCode(t, rec))

	delete(body, "round_id")
	rec = env.do(t, http.MethodPost, "/ledger/internal/cashback/accruals", uuid.Nil, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", errorCode(t, rec))
}

func TestClaimCashback_NothingToClaim(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.openWallet(t)

	rec := env.do(t, http.MethodPost, "/ledger/vip/cashback/claim", userID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no_cashback_available", errorCode(t, rec))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: domain.ErrInvalidAmount, want: http.StatusBadRequest},
		{name: "not found", err: domain.ErrUserNotFound, want: http.StatusNotFound},
		{name: "capacity", err: domain.ErrAmoeWeeklyLimit, want: http.StatusTooManyRequests},
		{name: "settled", err: domain.ErrXpAlreadyAwarded, want: http.StatusConflict},
		{name: "state conflict", err: domain.ErrAmoeNotApproved, want: http.StatusConflict},
		{name: "version conflict", err: domain.ErrVersionConflict, want: http.StatusServiceUnavailable},
		{name: "wrapped contention", err: fmt.Errorf("settle: %w", domain.ErrSettlementContended), want: http.StatusServiceUnavailable},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestJWTAuthMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyFunc := func(*jwt.Token) (interface{}, error) { return &key.PublicKey, nil }
	userID := uuid.New()

	var seen uuid.UUID
	handler := JWTAuthMiddleware(keyFunc, AuthOptions{Audience: "neonplay"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{"neonplay"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, valid).SignedString([]byte("secret"))
	require.NoError(t, err)

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	wrongAudience := valid
	wrongAudience.Audience = jwt.ClaimStrings{"other"}
	badSubject := valid
	badSubject.Subject = "player-42"

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + signToken(t, key, valid), want: http.StatusNoContent},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "no bearer prefix", header: signToken(t, key, valid), want: http.StatusUnauthorized},
		{name: "hmac signed", header: "Bearer " + hmacToken, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, key, expired), want: http.StatusUnauthorized},
		{name: "no expiry", header: "Bearer " + signToken(t, key, noExpiry), want: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + signToken(t, key, wrongAudience), want: http.StatusUnauthorized},
		{name: "subject not a uuid", header: "Bearer " + signToken(t, key, badSubject), want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = uuid.Nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, userID, seen)
			}
		})
	}
}
