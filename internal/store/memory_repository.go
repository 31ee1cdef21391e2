/**
 * @description
 * In-memory implementation of the `Repository` interface, used for local development
 * (STORE_DRIVER=memory) and by the engine and API tests. It enforces the same unique
 * constraints and compare-and-swap semantics as the PostgreSQL schema.
 *
 * @notes
 * - RunInTx holds the repository lock for the whole unit and works on a cloned
 *   snapshot. The snapshot replaces the live state only when the callback returns nil.
 * - Calls made outside RunInTx lock per call and write straight to the live state.
 * - *big.Int values are copied on the way in and out; stored values are never mutated.
 */

package store

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
)

type memoryState struct {
	users         map[uuid.UUID]domain.User
	wallets       map[uuid.UUID]domain.Wallet // keyed by user id
	transactions  []domain.Transaction
	referralCodes map[string]domain.ReferralCode
	referrals     map[uuid.UUID]domain.Referral
	referralSeq   []uuid.UUID
	bonusClaims   []domain.BonusClaim
	tiers         map[int]domain.VipTier
	userVips      map[uuid.UUID]domain.UserVip // keyed by user id
	xpHistory     []domain.XpHistory
	accruals      map[string]domain.CashbackAccrualRecord // keyed by user id + reference
	amoeEntries   map[uuid.UUID]domain.AmoeEntry
	amoeSeq       []uuid.UUID
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:         make(map[uuid.UUID]domain.User),
		wallets:       make(map[uuid.UUID]domain.Wallet),
		referralCodes: make(map[string]domain.ReferralCode),
		referrals:     make(map[uuid.UUID]domain.Referral),
		tiers:         make(map[int]domain.VipTier),
		userVips:      make(map[uuid.UUID]domain.UserVip),
		accruals:      make(map[string]domain.CashbackAccrualRecord),
		amoeEntries:   make(map[uuid.UUID]domain.AmoeEntry),
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneSlice[T any](src []T) []T {
	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		users:         cloneMap(s.users),
		wallets:       cloneMap(s.wallets),
		transactions:  cloneSlice(s.transactions),
		referralCodes: cloneMap(s.referralCodes),
		referrals:     cloneMap(s.referrals),
		referralSeq:   cloneSlice(s.referralSeq),
		bonusClaims:   cloneSlice(s.bonusClaims),
		tiers:         cloneMap(s.tiers),
		userVips:      cloneMap(s.userVips),
		xpHistory:     cloneSlice(s.xpHistory),
		accruals:      cloneMap(s.accruals),
		amoeEntries:   cloneMap(s.amoeEntries),
		amoeSeq:       cloneSlice(s.amoeSeq),
	}
}

// MemoryRepository keeps the whole ledger in process memory.
type MemoryRepository struct {
	*memQueries

	mu    sync.Mutex
	state *memoryState
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{state: newMemoryState()}
	r.memQueries = &memQueries{repo: r}
	return r
}

// PutUser registers or replaces an account record. It stands in for the account
// service that owns the users table in production.
func (r *MemoryRepository) PutUser(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.users[user.ID] = user
}

// RunInTx runs fn against a private snapshot and publishes it only on success.
func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := r.state.clone()
	if err := fn(ctx, &memQueries{repo: r, tx: snapshot}); err != nil {
		return err
	}
	r.state = snapshot
	return nil
}

// memQueries implements Queries either inside a unit (tx set) or directly on the
// live state under the repository lock.
type memQueries struct {
	repo *MemoryRepository
	tx   *memoryState
}

func (q *memQueries) begin() (*memoryState, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.repo.mu.Lock()
	return q.repo.state, q.repo.mu.Unlock
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyVip(v domain.UserVip) domain.UserVip {
	v.XpCurrent = copyBig(v.XpCurrent)
	v.XpLifetime = copyBig(v.XpLifetime)
	v.NextTierXp = copyBig(v.NextTierXp)
	return v
}

func copyTier(t domain.VipTier) domain.VipTier {
	t.MinXp = copyBig(t.MinXp)
	return t
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	return cloneMap(m)
}

func (q *memQueries) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	s, done := q.begin()
	defer done()
	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

// CreateWallet also registers an active user when none is known, so that a
// standalone deployment without an account service behaves like production.
func (q *memQueries) CreateWallet(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error) {
	s, done := q.begin()
	defer done()
	if existing, ok := s.wallets[wallet.UserID]; ok {
		return &existing, nil
	}
	w := *domain.NewWallet(wallet.UserID, wallet.CreatedAt)
	w.ID = wallet.ID
	s.wallets[w.UserID] = w
	if _, ok := s.users[w.UserID]; !ok {
		s.users[w.UserID] = domain.User{ID: w.UserID, Status: domain.UserStatusActive}
	}
	return &w, nil
}

func (q *memQueries) FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	s, done := q.begin()
	defer done()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (q *memQueries) UpdateWalletIfVersion(ctx context.Context, wallet *domain.Wallet, expectedVersion int64) (*domain.Wallet, error) {
	s, done := q.begin()
	defer done()
	current, ok := s.wallets[wallet.UserID]
	if !ok || current.ID != wallet.ID || current.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}
	current.GCBalance = wallet.GCBalance
	current.SCBalance = wallet.SCBalance
	current.USDCBalance = wallet.USDCBalance
	current.LifetimeWon = wallet.LifetimeWon
	current.SCLifetimeEarned = wallet.SCLifetimeEarned
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	s.wallets[current.UserID] = current
	return &current, nil
}

func (q *memQueries) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	s, done := q.begin()
	defer done()
	row := *tx
	row.Metadata = copyMetadata(tx.Metadata)
	s.transactions = append(s.transactions, row)
	return nil
}

func (q *memQueries) ListTransactionsByUserID(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	s, done := q.begin()
	defer done()
	var matched []domain.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID == userID {
			matched = append(matched, s.transactions[i])
		}
	}
	if opts.Offset >= len(matched) {
		return []domain.Transaction{}, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (q *memQueries) ListVipTiers(ctx context.Context) ([]domain.VipTier, error) {
	s, done := q.begin()
	defer done()
	tiers := make([]domain.VipTier, 0, len(s.tiers))
	for _, t := range s.tiers {
		tiers = append(tiers, copyTier(t))
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Level < tiers[j].Level })
	return tiers, nil
}

func (q *memQueries) UpsertVipTier(ctx context.Context, tier domain.VipTier) error {
	s, done := q.begin()
	defer done()
	if existing, ok := s.tiers[tier.Level]; ok {
		tier.ID = existing.ID
	} else if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}
	s.tiers[tier.Level] = copyTier(tier)
	return nil
}

func (q *memQueries) FindUserVipByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserVip, error) {
	s, done := q.begin()
	defer done()
	v, ok := s.userVips[userID]
	if !ok {
		return nil, domain.ErrUserVipNotFound
	}
	v = copyVip(v)
	return &v, nil
}

func (q *memQueries) CreateUserVip(ctx context.Context, vip *domain.UserVip) (*domain.UserVip, error) {
	s, done := q.begin()
	defer done()
	if existing, ok := s.userVips[vip.UserID]; ok {
		existing = copyVip(existing)
		return &existing, nil
	}
	row := copyVip(*vip)
	row.UpdatedAt = row.CreatedAt
	s.userVips[row.UserID] = row
	out := copyVip(row)
	return &out, nil
}

func (q *memQueries) UpdateUserVip(ctx context.Context, vip *domain.UserVip) error {
	s, done := q.begin()
	defer done()
	current, ok := s.userVips[vip.UserID]
	if !ok || current.ID != vip.ID {
		return domain.ErrUserVipNotFound
	}
	row := copyVip(*vip)
	row.CreatedAt = current.CreatedAt
	row.UpdatedAt = time.Now().UTC()
	s.userVips[row.UserID] = row
	return nil
}

func (q *memQueries) InsertXpHistory(ctx context.Context, entry *domain.XpHistory) error {
	s, done := q.begin()
	defer done()
	if entry.ReferenceID != "" {
		for _, h := range s.xpHistory {
			if h.Source == entry.Source && h.ReferenceID == entry.ReferenceID {
				return domain.ErrXpAlreadyAwarded
			}
		}
	}
	row := *entry
	row.Amount = copyBig(entry.Amount)
	s.xpHistory = append(s.xpHistory, row)
	return nil
}

func (q *memQueries) XpHistoryExists(ctx context.Context, source, referenceID string) (bool, error) {
	if referenceID == "" {
		return false, nil
	}
	s, done := q.begin()
	defer done()
	for _, h := range s.xpHistory {
		if h.Source == source && h.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) InsertCashbackAccrual(ctx context.Context, record *domain.CashbackAccrualRecord) error {
	s, done := q.begin()
	defer done()
	key := record.UserID.String() + "/" + record.ReferenceID
	if _, ok := s.accruals[key]; ok {
		return domain.ErrCashbackAlreadyAccrued
	}
	s.accruals[key] = *record
	return nil
}

func (q *memQueries) FindReferralCodeByUserID(ctx context.Context, userID uuid.UUID) (*domain.ReferralCode, error) {
	s, done := q.begin()
	defer done()
	for _, rc := range s.referralCodes {
		if rc.UserID == userID {
			rc := rc
			return &rc, nil
		}
	}
	return nil, domain.ErrReferralCodeNotFound
}

func (q *memQueries) FindReferralCodeByCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	s, done := q.begin()
	defer done()
	rc, ok := s.referralCodes[code]
	if !ok {
		return nil, domain.ErrReferralCodeNotFound
	}
	return &rc, nil
}

func (q *memQueries) CreateReferralCode(ctx context.Context, code *domain.ReferralCode) error {
	s, done := q.begin()
	defer done()
	if _, ok := s.referralCodes[code.Code]; ok {
		return ErrReferralCodeTaken
	}
	for _, rc := range s.referralCodes {
		if rc.UserID == code.UserID {
			return domain.ErrVersionConflict
		}
	}
	s.referralCodes[code.Code] = *code
	return nil
}

func (q *memQueries) FindReferralByReferredIDForUpdate(ctx context.Context, referredID uuid.UUID) (*domain.Referral, error) {
	s, done := q.begin()
	defer done()
	for _, r := range s.referrals {
		if r.ReferredID == referredID {
			r := r
			return &r, nil
		}
	}
	return nil, domain.ErrReferralNotFound
}

func (q *memQueries) FindReferralByIDForUpdate(ctx context.Context, referralID uuid.UUID) (*domain.Referral, error) {
	s, done := q.begin()
	defer done()
	r, ok := s.referrals[referralID]
	if !ok {
		return nil, domain.ErrReferralNotFound
	}
	return &r, nil
}

func (q *memQueries) CreateReferral(ctx context.Context, referral *domain.Referral) error {
	s, done := q.begin()
	defer done()
	for _, r := range s.referrals {
		if r.ReferredID == referral.ReferredID {
			return domain.ErrReferralAlreadyApplied
		}
	}
	row := *referral
	row.UpdatedAt = row.CreatedAt
	s.referrals[row.ID] = row
	s.referralSeq = append(s.referralSeq, row.ID)
	return nil
}

func (q *memQueries) UpdateReferral(ctx context.Context, referral *domain.Referral) error {
	s, done := q.begin()
	defer done()
	current, ok := s.referrals[referral.ID]
	if !ok {
		return domain.ErrReferralNotFound
	}
	current.Status = referral.Status
	current.QualifyingAmount = referral.QualifyingAmount
	current.QualifiedAt = referral.QualifiedAt
	current.RewardedAt = referral.RewardedAt
	current.UpdatedAt = time.Now().UTC()
	s.referrals[current.ID] = current
	return nil
}

func (q *memQueries) ListReferralsByReferrerID(ctx context.Context, referrerID uuid.UUID) ([]domain.Referral, error) {
	s, done := q.begin()
	defer done()
	referrals := []domain.Referral{}
	for i := len(s.referralSeq) - 1; i >= 0; i-- {
		if r := s.referrals[s.referralSeq[i]]; r.ReferrerID == referrerID {
			referrals = append(referrals, r)
		}
	}
	return referrals, nil
}

func (q *memQueries) ListQualifyingReferralIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	s, done := q.begin()
	defer done()
	var candidates []domain.Referral
	for _, id := range s.referralSeq {
		r := s.referrals[id]
		if r.Status == domain.ReferralStatusPending && r.QualifyingAmount != nil {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
	})
	var ids []uuid.UUID
	for _, r := range candidates {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (q *memQueries) InsertBonusClaim(ctx context.Context, claim *domain.BonusClaim) error {
	s, done := q.begin()
	defer done()
	s.bonusClaims = append(s.bonusClaims, *claim)
	return nil
}

func (q *memQueries) FindGeneratedAmoeEntryByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.AmoeEntry, error) {
	s, done := q.begin()
	defer done()
	for _, e := range s.amoeEntries {
		if e.UserID == userID && e.Status == domain.AmoeStatusGenerated {
			e := e
			return &e, nil
		}
	}
	return nil, domain.ErrAmoeEntryNotFound
}

func (q *memQueries) CountAmoeEntriesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	s, done := q.begin()
	defer done()
	count := 0
	for _, e := range s.amoeEntries {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (q *memQueries) AmoeCodeExists(ctx context.Context, code string) (bool, error) {
	s, done := q.begin()
	defer done()
	for _, e := range s.amoeEntries {
		if e.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) CreateAmoeEntry(ctx context.Context, entry *domain.AmoeEntry) error {
	s, done := q.begin()
	defer done()
	for _, e := range s.amoeEntries {
		if e.Code == entry.Code {
			return ErrAmoeCodeTaken
		}
		if entry.Status == domain.AmoeStatusGenerated && e.UserID == entry.UserID && e.Status == domain.AmoeStatusGenerated {
			return ErrGeneratedAmoeExists
		}
	}
	s.amoeEntries[entry.ID] = *entry
	s.amoeSeq = append(s.amoeSeq, entry.ID)
	return nil
}

func (q *memQueries) FindAmoeEntryByCodeForUpdate(ctx context.Context, userID uuid.UUID, code string) (*domain.AmoeEntry, error) {
	s, done := q.begin()
	defer done()
	for _, e := range s.amoeEntries {
		if e.UserID == userID && e.Code == code {
			e := e
			return &e, nil
		}
	}
	return nil, domain.ErrAmoeEntryNotFound
}

func (q *memQueries) FindAmoeEntryByIDForUpdate(ctx context.Context, entryID uuid.UUID) (*domain.AmoeEntry, error) {
	s, done := q.begin()
	defer done()
	e, ok := s.amoeEntries[entryID]
	if !ok {
		return nil, domain.ErrAmoeEntryNotFound
	}
	return &e, nil
}

func (q *memQueries) UpdateAmoeEntry(ctx context.Context, entry *domain.AmoeEntry) error {
	s, done := q.begin()
	defer done()
	current, ok := s.amoeEntries[entry.ID]
	if !ok {
		return domain.ErrAmoeEntryNotFound
	}
	row := *entry
	row.UserID = current.UserID
	row.Code = current.Code
	row.CreatedAt = current.CreatedAt
	s.amoeEntries[row.ID] = row
	return nil
}

func (q *memQueries) ListAmoeEntriesByUserID(ctx context.Context, userID uuid.UUID) ([]domain.AmoeEntry, error) {
	s, done := q.begin()
	defer done()
	entries := []domain.AmoeEntry{}
	for i := len(s.amoeSeq) - 1; i >= 0; i-- {
		if e := s.amoeEntries[s.amoeSeq[i]]; e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (q *memQueries) ExpireGeneratedAmoeEntries(ctx context.Context, createdBefore time.Time, now time.Time) (int64, error) {
	s, done := q.begin()
	defer done()
	var expired int64
	for id, e := range s.amoeEntries {
		if e.Status != domain.AmoeStatusGenerated || !e.CreatedAt.Before(createdBefore) {
			continue
		}
		e.Status = domain.AmoeStatusExpired
		at := now
		e.ExpiredAt = &at
		s.amoeEntries[id] = e
		expired++
	}
	return expired, nil
}
