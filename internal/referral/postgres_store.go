package referral

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/forgetsubs/forgetsubs/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed referral store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the referral tables. The goose migrations under migrations/
// carry the same schema for deployments that migrate out-of-process.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			address            VARCHAR(42) PRIMARY KEY,
			referral_code      VARCHAR(16) NOT NULL UNIQUE,
			clicks             INTEGER NOT NULL DEFAULT 0,
			successful_refers  INTEGER NOT NULL DEFAULT 0,
			earnings           NUMERIC(20,6) NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_earnings_nonneg CHECK (earnings >= 0)
		);

		CREATE TABLE IF NOT EXISTS claimed_tx (
			tx_hash    VARCHAR(66) NOT NULL,
			chain_id   BIGINT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (tx_hash, chain_id)
		);

		CREATE TABLE IF NOT EXISTS successful_referrals (
			id                VARCHAR(40) PRIMARY KEY,
			referrer_address  VARCHAR(42) NOT NULL REFERENCES users(address),
			referred_address  VARCHAR(42) NOT NULL,
			tx_hash           VARCHAR(66) NOT NULL,
			chain_id          BIGINT NOT NULL,
			created_at        TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS withdrawals (
			id          VARCHAR(40) PRIMARY KEY,
			address     VARCHAR(42) NOT NULL REFERENCES users(address),
			amount      NUMERIC(20,6) NOT NULL,
			chain_id    BIGINT NOT NULL,
			destination VARCHAR(42) NOT NULL,
			status      VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON successful_referrals(referrer_address);
		CREATE INDEX IF NOT EXISTS idx_users_refers ON users(successful_refers DESC);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_address ON withdrawals(address, created_at DESC);
	`)
	return err
}

func (p *PostgresStore) GetUser(ctx context.Context, address string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT address, referral_code, clicks, successful_refers, earnings, created_at
		FROM users WHERE address = $1
	`, strings.ToLower(address)))
}

func (p *PostgresStore) GetUserByCode(ctx context.Context, code string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT address, referral_code, clicks, successful_refers, earnings, created_at
		FROM users WHERE referral_code = $1
	`, code))
}

func (p *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.Address, &u.ReferralCode, &u.Clicks, &u.SuccessfulRefers, &u.Earnings, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (address, referral_code, clicks, successful_refers, earnings)
		VALUES ($1, $2, 0, 0, 0)
	`, strings.ToLower(u.Address), u.ReferralCode)
	return err
}

func (p *PostgresStore) IncrementClicks(ctx context.Context, address string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET clicks = clicks + 1 WHERE address = $1
	`, strings.ToLower(address))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) IsTxClaimed(ctx context.Context, txHash string, chainID int64) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM claimed_tx WHERE tx_hash = $1 AND chain_id = $2)
	`, strings.ToLower(txHash), chainID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) CreditReferral(ctx context.Context, ref *Referral, reward string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The claimed_tx primary key is the replay guard: a concurrent claim of
	// the same transaction fails here and rolls the whole credit back.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO claimed_tx (tx_hash, chain_id) VALUES ($1, $2)
	`, strings.ToLower(ref.TxHash), ref.ChainID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrAlreadyClaimed
		}
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET successful_refers = successful_refers + 1,
		    earnings = earnings + $2
		WHERE address = $1
	`, strings.ToLower(ref.ReferrerAddress), reward)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}

	id := ref.ID
	if id == "" {
		id = idgen.WithPrefix("ref_")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO successful_referrals (id, referrer_address, referred_address, tx_hash, chain_id)
		VALUES ($1, $2, $3, $4, $5)
	`, id, strings.ToLower(ref.ReferrerAddress), strings.ToLower(ref.ReferredAddress),
		strings.ToLower(ref.TxHash), ref.ChainID); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT address, referral_code, clicks, successful_refers, earnings, created_at
		FROM users
		ORDER BY successful_refers DESC, address ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.Address, &u.ReferralCode, &u.Clicks, &u.SuccessfulRefers, &u.Earnings, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresStore) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	addr := strings.ToLower(w.Address)

	// The earnings check constraint turns an overdraw into an error here.
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET earnings = earnings - $2 WHERE address = $1
	`, addr, w.Amount)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "check_violation" {
			return ErrInsufficientEarnings
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}

	id := w.ID
	if id == "" {
		id = idgen.WithPrefix("wd_")
	}
	status := w.Status
	if status == "" {
		status = WithdrawalPending
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO withdrawals (id, address, amount, chain_id, destination, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, addr, w.Amount, w.ChainID, strings.ToLower(w.Destination), status); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) ListWithdrawals(ctx context.Context, address string) ([]*Withdrawal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, amount, chain_id, destination, status, created_at
		FROM withdrawals
		WHERE address = $1
		ORDER BY created_at DESC
	`, strings.ToLower(address))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Withdrawal
	for rows.Next() {
		w := &Withdrawal{}
		if err := rows.Scan(&w.ID, &w.Address, &w.Amount, &w.ChainID, &w.Destination, &w.Status, &w.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
