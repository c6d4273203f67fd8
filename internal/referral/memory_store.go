package referral

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgetsubs/forgetsubs/internal/idgen"
	"github.com/forgetsubs/forgetsubs/internal/usdc"
)

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User // keyed by lowercase address
	byCode      map[string]string
	claimed     map[string]bool // "txHash:chainID"
	referrals   []*Referral
	withdrawals map[string][]*Withdrawal
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		byCode:      make(map[string]string),
		claimed:     make(map[string]bool),
		withdrawals: make(map[string][]*Withdrawal),
	}
}

func claimKey(txHash string, chainID int64) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(txHash), chainID)
}

func (s *MemoryStore) GetUser(_ context.Context, address string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.ToLower(address)]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemoryStore) GetUserByCode(_ context.Context, code string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.byCode[code]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *s.users[addr]
	return &copied, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := strings.ToLower(u.Address)
	if _, exists := s.users[addr]; exists {
		return fmt.Errorf("referral: user %s already exists", addr)
	}

	stored := *u
	stored.Address = addr
	s.users[addr] = &stored
	s.byCode[u.ReferralCode] = addr
	return nil
}

func (s *MemoryStore) IncrementClicks(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(address)]
	if !ok {
		return ErrUserNotFound
	}
	u.Clicks++
	return nil
}

func (s *MemoryStore) IsTxClaimed(_ context.Context, txHash string, chainID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimed[claimKey(txHash, chainID)], nil
}

func (s *MemoryStore) CreditReferral(_ context.Context, ref *Referral, reward string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey(ref.TxHash, ref.ChainID)
	if s.claimed[key] {
		return ErrAlreadyClaimed
	}

	u, ok := s.users[strings.ToLower(ref.ReferrerAddress)]
	if !ok {
		return ErrUserNotFound
	}

	current, ok := usdc.Parse(u.Earnings)
	if !ok {
		return fmt.Errorf("referral: corrupt earnings %q", u.Earnings)
	}
	add, ok := usdc.Parse(reward)
	if !ok {
		return fmt.Errorf("referral: bad reward %q", reward)
	}

	u.Earnings = usdc.Format(new(big.Int).Add(current, add))
	u.SuccessfulRefers++

	stored := *ref
	if stored.ID == "" {
		stored.ID = idgen.WithPrefix("ref_")
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.referrals = append(s.referrals, &stored)
	s.claimed[key] = true
	return nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		copied := *u
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].SuccessfulRefers != users[j].SuccessfulRefers {
			return users[i].SuccessfulRefers > users[j].SuccessfulRefers
		}
		return users[i].Address < users[j].Address
	})

	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *MemoryStore) CreateWithdrawal(_ context.Context, w *Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := strings.ToLower(w.Address)
	u, ok := s.users[addr]
	if !ok {
		return ErrUserNotFound
	}

	earnings, ok := usdc.Parse(u.Earnings)
	if !ok {
		return fmt.Errorf("referral: corrupt earnings %q", u.Earnings)
	}
	amount, ok := usdc.Parse(w.Amount)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("referral: bad withdrawal amount %q", w.Amount)
	}
	if earnings.Cmp(amount) < 0 {
		return ErrInsufficientEarnings
	}

	u.Earnings = usdc.Format(new(big.Int).Sub(earnings, amount))

	stored := *w
	stored.Address = addr
	if stored.ID == "" {
		stored.ID = idgen.WithPrefix("wd_")
	}
	if stored.Status == "" {
		stored.Status = WithdrawalPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.withdrawals[addr] = append([]*Withdrawal{&stored}, s.withdrawals[addr]...)
	return nil
}

func (s *MemoryStore) ListWithdrawals(_ context.Context, address string) ([]*Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.withdrawals[strings.ToLower(address)]
	out := make([]*Withdrawal, len(list))
	for i, w := range list {
		copied := *w
		out[i] = &copied
	}
	return out, nil
}
