package database

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. Values are copied in and out so
// callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]models.User
	accounts   map[string]models.Account
	pairs      map[string]models.ForwardingPair
	deliveries []models.DeliveryLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		accounts: make(map[string]models.Account),
		pairs:    make(map[string]models.ForwardingPair),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) EnsureUser(_ context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		user = models.User{ID: userID, Plan: models.PlanFree, CreatedAt: time.Now().UTC()}
		m.users[userID] = user
	}
	return &user, nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", userID)
	}
	return &user, nil
}

func (m *MemoryStore) SetUserPlan(_ context.Context, userID string, plan models.PlanTier, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return apperrors.NewNotFoundError("user", userID)
	}
	user.Plan = plan
	user.PlanExpiresAt = copyTime(expiresAt)
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[account.ID]; exists {
		return apperrors.NewConflictError("account", account.ID, "already exists")
	}
	stored := *account
	stored.LastSeen = copyTime(account.LastSeen)
	m.accounts[account.ID] = stored
	return nil
}

func (m *MemoryStore) CreateAccountWithin(_ context.Context, account *models.Account, max int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[account.ID]; exists {
		return false, apperrors.NewConflictError("account", account.ID, "already exists")
	}
	if max != models.Unlimited {
		n := 0
		for _, existing := range m.accounts {
			if existing.UserID == account.UserID && existing.Platform == account.Platform {
				n++
			}
		}
		if n >= max {
			return false, nil
		}
	}
	stored := *account
	stored.LastSeen = copyTime(account.LastSeen)
	m.accounts[account.ID] = stored
	return true, nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("account", id)
	}
	account.LastSeen = copyTime(account.LastSeen)
	return &account, nil
}

func (m *MemoryStore) ListAccounts(_ context.Context, userID string) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Account
	for _, account := range m.accounts {
		if userID == "" || account.UserID == userID {
			account.LastSeen = copyTime(account.LastSeen)
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) UpdateAccountStatus(_ context.Context, id string, status models.AccountStatus, reason string, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return apperrors.NewNotFoundError("account", id)
	}
	account.Status = status
	account.StatusReason = reason
	if lastSeen != nil {
		account.LastSeen = copyTime(lastSeen)
	}
	account.UpdatedAt = time.Now().UTC()
	m.accounts[id] = account
	return nil
}

func (m *MemoryStore) DeleteAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	return nil
}

func (m *MemoryStore) CountAccountsByPlatform(_ context.Context, userID string) (map[models.Platform]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.Platform]int)
	for _, account := range m.accounts {
		if account.UserID == userID {
			counts[account.Platform]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) CreatePair(_ context.Context, pair *models.ForwardingPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pairs[pair.ID]; exists {
		return apperrors.NewConflictError("pair", pair.ID, "already exists")
	}
	m.pairs[pair.ID] = clonePair(*pair)
	return nil
}

func (m *MemoryStore) CreatePairWithin(_ context.Context, pair *models.ForwardingPair, max int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pairs[pair.ID]; exists {
		return false, apperrors.NewConflictError("pair", pair.ID, "already exists")
	}
	if max != models.Unlimited {
		n := 0
		for _, existing := range m.pairs {
			if existing.UserID == pair.UserID && existing.Shape() == pair.Shape() {
				n++
			}
		}
		if n >= max {
			return false, nil
		}
	}
	m.pairs[pair.ID] = clonePair(*pair)
	return true, nil
}

func (m *MemoryStore) UpdatePair(_ context.Context, pair *models.ForwardingPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pairs[pair.ID]; !ok {
		return apperrors.NewNotFoundError("pair", pair.ID)
	}
	m.pairs[pair.ID] = clonePair(*pair)
	return nil
}

func (m *MemoryStore) GetPair(_ context.Context, id string) (*models.ForwardingPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pair, ok := m.pairs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("pair", id)
	}
	out := clonePair(pair)
	return &out, nil
}

func (m *MemoryStore) ListPairs(_ context.Context, userID string) ([]models.ForwardingPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ForwardingPair, 0)
	for _, pair := range m.pairs {
		if userID == "" || pair.UserID == userID {
			out = append(out, clonePair(pair))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeletePair(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pairs[id]; !ok {
		return false, nil
	}
	delete(m.pairs, id)
	return true, nil
}

func (m *MemoryStore) CountPairsByShape(_ context.Context, userID string) (map[models.PairShape]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.PairShape]int)
	for _, pair := range m.pairs {
		if pair.UserID == userID {
			counts[pair.Shape()]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) CountPairsByAccount(_ context.Context, accountID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, pair := range m.pairs {
		if pair.SourceAccountID == accountID || pair.DestAccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdatePairCheckpoint(_ context.Context, id, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, ok := m.pairs[id]
	if !ok {
		return nil
	}
	pair.LastSourceMessageID = messageID
	pair.UpdatedAt = time.Now().UTC()
	m.pairs[id] = pair
	return nil
}

func (m *MemoryStore) InsertDeliveryLog(_ context.Context, entry *models.DeliveryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, *entry)
	return nil
}

func (m *MemoryStore) FindDeliveryLog(_ context.Context, pairID, sourceMessageID string) (*models.DeliveryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.deliveries) - 1; i >= 0; i-- {
		entry := m.deliveries[i]
		if entry.PairID == pairID && entry.SourceMessageID == sourceMessageID && entry.DestMessageID != "" {
			return &entry, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListDeliveryLogs(_ context.Context, userID, pairID string, limit int) ([]models.DeliveryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DeliveryLog
	for i := len(m.deliveries) - 1; i >= 0; i-- {
		entry := m.deliveries[i]
		if userID != "" && entry.UserID != userID {
			continue
		}
		if pairID != "" && entry.PairID != pairID {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CountDeliveriesSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entry := range m.deliveries {
		if entry.UserID == userID && entry.Status == models.DeliveryDelivered && !entry.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CleanupDeliveryLogs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.deliveries[:0]
	var removed int64
	for _, entry := range m.deliveries {
		if entry.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	m.deliveries = kept
	return removed, nil
}

func clonePair(pair models.ForwardingPair) models.ForwardingPair {
	pair.Filters.BlockedText = append([]string(nil), pair.Filters.BlockedText...)
	pair.Filters.RequiredText = append([]string(nil), pair.Filters.RequiredText...)
	pair.Filters.Replacements = append([]models.ReplaceRule(nil), pair.Filters.Replacements...)
	return pair
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
