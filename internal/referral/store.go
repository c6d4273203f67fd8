// Package referral keeps the referral/rewards ledger: users with share codes,
// click counts, credited rewards for verified unlock payments, and withdrawal
// requests.
package referral

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound means no user exists for the address or code.
	ErrUserNotFound = errors.New("referral: user not found")

	// ErrAlreadyClaimed means the transaction was already used for a reward.
	ErrAlreadyClaimed = errors.New("referral: transaction already claimed")

	// ErrInsufficientEarnings means a withdrawal exceeds the user's balance.
	ErrInsufficientEarnings = errors.New("referral: insufficient earnings")
)

// User is one referral participant. Earnings is a human-readable USDC amount.
type User struct {
	Address          string    `json:"address"`
	ReferralCode     string    `json:"referralCode"`
	Clicks           int       `json:"clicks"`
	SuccessfulRefers int       `json:"successfulRefers"`
	Earnings         string    `json:"earnings"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Referral records one credited referral.
type Referral struct {
	ID              string    `json:"id"`
	ReferrerAddress string    `json:"referrerAddress"`
	ReferredAddress string    `json:"referredAddress"`
	TxHash          string    `json:"txHash"`
	ChainID         int64     `json:"chainId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Withdrawal is a pending or settled payout request.
type Withdrawal struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Amount      string    `json:"amount"`
	ChainID     int64     `json:"chainId"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Withdrawal statuses.
const (
	WithdrawalPending = "pending"
	WithdrawalPaid    = "paid"
)

// Store persists referral state. Implementations: MemoryStore for tests and
// dev, PostgresStore for production.
type Store interface {
	// GetUser returns the user for a lowercase address.
	GetUser(ctx context.Context, address string) (*User, error)

	// GetUserByCode returns the user owning a referral code.
	GetUserByCode(ctx context.Context, code string) (*User, error)

	// CreateUser inserts a new user.
	CreateUser(ctx context.Context, u *User) error

	// IncrementClicks bumps the click counter for a user.
	IncrementClicks(ctx context.Context, address string) error

	// IsTxClaimed reports whether (txHash, chainID) was already rewarded.
	IsTxClaimed(ctx context.Context, txHash string, chainID int64) (bool, error)

	// CreditReferral atomically credits the referrer, records the referral
	// and marks the transaction claimed. Returns ErrAlreadyClaimed if the
	// transaction was claimed concurrently.
	CreditReferral(ctx context.Context, ref *Referral, reward string) error

	// Leaderboard returns the top users by successful referrals.
	Leaderboard(ctx context.Context, limit int) ([]*User, error)

	// CreateWithdrawal deducts the amount from the user's earnings and
	// records the request, atomically.
	CreateWithdrawal(ctx context.Context, w *Withdrawal) error

	// ListWithdrawals returns a user's withdrawal requests, newest first.
	ListWithdrawals(ctx context.Context, address string) ([]*Withdrawal, error)
}
