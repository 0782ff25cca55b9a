// Package account holds the in-memory mirror of the Plans/Accounts/APIKeys
// tables the request pipeline consults on every request.
package account

import "sync"

// Plan is a pricing tier.
type Plan struct {
	PlanID        int64
	Name          string
	MonthlyQuota  *int64
	RPSLimit      int64
	PricePer1kReq *float64
}

// Account is a billable entity bound to one plan.
type Account struct {
	AccountID     int64
	Email         string
	PlanID        int64
	BillingStatus string
}

// APIKey is a credential bound to one account.
type APIKey struct {
	KeyID     int64
	AccountID int64
	HashHex   string
	IsActive  bool
}

// KeyContext is the triple a resolved request needs to attribute usage.
type KeyContext struct {
	AccountID int64
	KeyID     int64
	PlanID    int64
}

// Store is the thread-safe lookup structure the pipeline reads on every
// request and the replicator mutates in the background. Forward lookups key
// on the hash string, since the pipeline only ever has a hash; the reverse
// index is what lets upsert_api_key invalidate a renamed hash correctly.
type Store struct {
	mu sync.RWMutex

	hashToAccount map[string]int64
	hashToKey     map[string]int64
	keyToHash     map[int64]string
	accountToPlan map[int64]int64
	plans         map[int64]Plan

	maxChangeID int64
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		hashToAccount: make(map[string]int64),
		hashToKey:     make(map[string]int64),
		keyToHash:     make(map[int64]string),
		accountToPlan: make(map[int64]int64),
		plans:         make(map[int64]Plan),
	}
}

// GetPlanForKey composes the forward lookups; any miss along the chain
// returns (Plan{}, false).
func (s *Store) GetPlanForKey(hash string) (Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.hashToAccount[hash]
	if !ok {
		return Plan{}, false
	}
	planID, ok := s.accountToPlan[accountID]
	if !ok {
		return Plan{}, false
	}
	p, ok := s.plans[planID]
	return p, ok
}

// GetKeyContext composes the same lookups but also yields the identifiers
// needed for usage attribution.
func (s *Store) GetKeyContext(hash string) (KeyContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.hashToAccount[hash]
	if !ok {
		return KeyContext{}, false
	}
	keyID, ok := s.hashToKey[hash]
	if !ok {
		return KeyContext{}, false
	}
	planID, ok := s.accountToPlan[accountID]
	if !ok {
		return KeyContext{}, false
	}
	if _, ok := s.plans[planID]; !ok {
		return KeyContext{}, false
	}
	return KeyContext{AccountID: accountID, KeyID: keyID, PlanID: planID}, true
}

// UpsertPlan installs or replaces a plan. Deletions do not cascade: a
// dangling account-to-plan edge simply fails to resolve afterward.
func (s *Store) UpsertPlan(p Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.PlanID] = p
}

// DeletePlan removes a plan by id.
func (s *Store) DeletePlan(planID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, planID)
}

// UpsertAccount records the account's plan binding. Accounts with no plan are
// not modelled; the relational column is required upstream.
func (s *Store) UpsertAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountToPlan[a.AccountID] = a.PlanID
}

// DeleteAccount removes the account-to-plan binding.
func (s *Store) DeleteAccount(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accountToPlan, accountID)
}

// UpsertAPIKey applies the three-step invalidate-then-install sequence: any
// previously indexed hash for this key id is removed from both forward maps
// first, so a hash rotation never leaves the old hash resolvable.
func (s *Store) UpsertAPIKey(k APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeKeyLocked(k.KeyID)

	if k.IsActive {
		s.hashToAccount[k.HashHex] = k.AccountID
		s.hashToKey[k.HashHex] = k.KeyID
		s.keyToHash[k.KeyID] = k.HashHex
	}
}

// DeleteAPIKey removes a key via the reverse index.
func (s *Store) DeleteAPIKey(keyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeKeyLocked(keyID)
}

func (s *Store) removeKeyLocked(keyID int64) {
	if oldHash, ok := s.keyToHash[keyID]; ok {
		delete(s.hashToAccount, oldHash)
		delete(s.hashToKey, oldHash)
		delete(s.keyToHash, keyID)
	}
}

// AdvanceCursor sets max_change_id after a replication batch completes.
func (s *Store) AdvanceCursor(newMax int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newMax > s.maxChangeID {
		s.maxChangeID = newMax
	}
}

// Cursor returns the current replication watermark.
func (s *Store) Cursor() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxChangeID
}
