package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/forgetsubs/forgetsubs/internal/idgen"
	"github.com/forgetsubs/forgetsubs/internal/metrics"
	"github.com/forgetsubs/forgetsubs/internal/traces"
	"github.com/forgetsubs/forgetsubs/internal/usdc"
)

var (
	// ErrInvalidCode means the referral code matches no user.
	ErrInvalidCode = errors.New("referral: invalid referral code")

	// ErrSelfReferral means the payer tried to claim their own code.
	ErrSelfReferral = errors.New("referral: self referral not allowed")
)

// PaymentChecker verifies the unlock payment backing a claim. Satisfied by
// verify.PaymentVerifier.
type PaymentChecker interface {
	VerifyExactFrom(ctx context.Context, chainID int64, txHash, payer string, amount *big.Int) error
}

// Events receives notifications about credited referrals. May be nil.
type Events interface {
	ReferralCredited(referrer, reward string)
}

// ClaimRequest asks for a reward after a referred user paid for an unlock.
type ClaimRequest struct {
	ReferrerCode string
	TxHash       string
	ChainID      int64
	PayerAddress string
}

// Service implements the referral flows over a Store.
type Service struct {
	store       Store
	payments    PaymentChecker
	unlockPrice *big.Int
	reward      string
	events      Events
	logger      *slog.Logger
}

// NewService wires the referral service. reward and unlockPrice are
// human-readable USDC amounts; events may be nil.
func NewService(store Store, payments PaymentChecker, unlockPrice, reward string, events Events, logger *slog.Logger) (*Service, error) {
	price, ok := usdc.Parse(unlockPrice)
	if !ok {
		return nil, fmt.Errorf("referral: bad unlock price %q", unlockPrice)
	}
	if _, ok := usdc.Parse(reward); !ok {
		return nil, fmt.Errorf("referral: bad reward %q", reward)
	}
	return &Service{
		store:       store,
		payments:    payments,
		unlockPrice: price,
		reward:      reward,
		events:      events,
		logger:      logger,
	}, nil
}

// Register returns the user for address, creating one with a fresh referral
// code on first sight. Registration is idempotent per address.
func (s *Service) Register(ctx context.Context, address string) (*User, error) {
	addr := strings.ToLower(address)

	if u, err := s.store.GetUser(ctx, addr); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	// Retry on the slim chance of a code collision.
	for attempt := 0; attempt < 3; attempt++ {
		u := &User{
			Address:      addr,
			ReferralCode: idgen.ReferralCode(),
			Earnings:     "0.000000",
		}
		if err := s.store.CreateUser(ctx, u); err == nil {
			s.logger.Info("referral user registered", "address", addr, "code", u.ReferralCode)
			return s.store.GetUser(ctx, addr)
		} else if attempt == 2 {
			return nil, err
		}
	}
	return nil, errors.New("referral: could not allocate referral code")
}

// Click records a visit through a referral link.
func (s *Service) Click(ctx context.Context, code string) error {
	u, err := s.store.GetUserByCode(ctx, code)
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return err
	}
	return s.store.IncrementClicks(ctx, u.Address)
}

// Claim credits the referrer after verifying the referred user's unlock
// payment on-chain. The (txHash, chainID) pair is single-use.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) error {
	ctx, span := traces.StartSpan(ctx, "referral.Claim",
		traces.ReferralCode(req.ReferrerCode),
		traces.ChainID(req.ChainID),
		traces.TxHash(req.TxHash),
	)
	defer span.End()

	claimed, err := s.store.IsTxClaimed(ctx, req.TxHash, req.ChainID)
	if err != nil {
		return err
	}
	if claimed {
		return ErrAlreadyClaimed
	}

	referrer, err := s.store.GetUserByCode(ctx, req.ReferrerCode)
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return err
	}
	if strings.EqualFold(referrer.Address, req.PayerAddress) {
		return ErrSelfReferral
	}

	// Rewards bind to the exact unlock payment: right sender, right amount.
	if err := s.payments.VerifyExactFrom(ctx, req.ChainID, req.TxHash, req.PayerAddress, s.unlockPrice); err != nil {
		return err
	}

	if err := s.store.CreditReferral(ctx, &Referral{
		ReferrerAddress: referrer.Address,
		ReferredAddress: strings.ToLower(req.PayerAddress),
		TxHash:          req.TxHash,
		ChainID:         req.ChainID,
	}, s.reward); err != nil {
		return err
	}

	metrics.ReferralsCreditedTotal.Inc()
	if s.events != nil {
		s.events.ReferralCredited(referrer.Address, s.reward)
	}
	s.logger.Info("referral credited",
		"referrer", referrer.Address,
		"referred", strings.ToLower(req.PayerAddress),
		"reward", s.reward,
		"txHash", req.TxHash,
		"chainId", req.ChainID,
	)
	return nil
}

// Leaderboard returns the top referrers.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]*User, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.store.Leaderboard(ctx, limit)
}

// RequestWithdrawal books a payout request against the user's earnings.
func (s *Service) RequestWithdrawal(ctx context.Context, address, amount string, chainID int64, destination string) (*Withdrawal, error) {
	if _, ok := usdc.Parse(amount); !ok {
		return nil, fmt.Errorf("referral: bad withdrawal amount %q", amount)
	}
	if destination == "" {
		destination = address
	}

	w := &Withdrawal{
		ID:          idgen.WithPrefix("wd_"),
		Address:     strings.ToLower(address),
		Amount:      amount,
		ChainID:     chainID,
		Destination: strings.ToLower(destination),
		Status:      WithdrawalPending,
	}
	if err := s.store.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested", "address", w.Address, "amount", amount, "chainId", chainID)
	return w, nil
}

// Withdrawals lists a user's payout requests.
func (s *Service) Withdrawals(ctx context.Context, address string) ([]*Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, address)
}
