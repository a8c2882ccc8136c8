package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/wordgate/apiserver/types"
)

const accountColumns = `id, name, email, password_hash, tier, tier_category, word_limit, words_used,
		total_words_processed, is_admin, status, customer_ref, expiration_date, created_at, updated_at`

// TierUpdate is a tier change as persisted. Nil fields are left untouched.
type TierUpdate struct {
	Tier       string
	Category   *types.TierCategory
	WordLimit  *int64
	Status     *types.AccountStatus
	Expiration *time.Time
	ResetUsage bool
	Now        time.Time
}

// ExpirationUpdate guards an expiration transition. It only applies while the
// account still has ObservedTier and its expiration is before Now.
type ExpirationUpdate struct {
	ObservedTier   string
	Now            time.Time
	NextExpiration time.Time
}

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewAccountRepository(db *sql.DB, dialect Dialect) *AccountRepository {
	return &AccountRepository{db: db, dialect: dialect}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (types.Account, error) {
	var account types.Account
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.Tier,
		&account.TierCategory,
		&account.WordLimit,
		&account.WordsUsed,
		&account.TotalWordsProcessed,
		&account.IsAdmin,
		&account.Status,
		&account.CustomerRef,
		&account.ExpirationDate,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	account.ExpirationDate = account.ExpirationDate.UTC()
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	account.ExpirationDate = dbTime(account.ExpirationDate)
	account.CreatedAt = dbTime(account.CreatedAt)
	account.UpdatedAt = dbTime(account.UpdatedAt)

	const query = `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		account.ID,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Tier,
		account.TierCategory,
		account.WordLimit,
		account.WordsUsed,
		account.TotalWordsProcessed,
		account.IsAdmin,
		account.Status,
		account.CustomerRef,
		account.ExpirationDate,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return types.Account{}, classify(err)
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return scanAccount(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`
	return scanAccount(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), email))
}

func (r *AccountRepository) GetByCustomerRef(ctx context.Context, ref string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE customer_ref = ?`
	return scanAccount(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), ref))
}

// List returns every account, oldest first.
func (r *AccountRepository) List(ctx context.Context) ([]types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id`
	return r.list(ctx, query)
}

// ListNonFree returns every account whose tier is not free.
func (r *AccountRepository) ListNonFree(ctx context.Context) ([]types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE tier <> ? ORDER BY created_at, id`
	return r.list(ctx, query, types.TierFree)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]types.Account, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]types.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	const query = `UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, passwordHash, dbTime(now), id)
}

func (r *AccountRepository) SetAdmin(ctx context.Context, id string, isAdmin bool, now time.Time) error {
	const query = `UPDATE accounts SET is_admin = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, isAdmin, dbTime(now), id)
}

// SetCustomerRef links the account to a payment provider customer.
func (r *AccountRepository) SetCustomerRef(ctx context.Context, id, ref string, now time.Time) error {
	const query = `UPDATE accounts SET customer_ref = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, ref, dbTime(now), id)
}

func (r *AccountRepository) ResetUsage(ctx context.Context, id string, now time.Time) error {
	const query = `UPDATE accounts SET words_used = 0, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, dbTime(now), id)
}

// IncrementUsage adds n to the period and lifetime counters if the result
// stays within the word limit. The check and the write are one statement, so
// concurrent callers can never push words_used past word_limit. When the
// limit would be exceeded the current account is returned with applied=false.
func (r *AccountRepository) IncrementUsage(ctx context.Context, id string, n int64, now time.Time) (account types.Account, applied bool, err error) {
	const query = `
		UPDATE accounts
		SET words_used = words_used + ?, total_words_processed = total_words_processed + ?, updated_at = ?
		WHERE id = ? AND words_used + ? <= word_limit`

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.dialect.Rebind(query), n, n, dbTime(now), id, n)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = affected > 0
		account, err = r.getTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return types.Account{}, false, err
	}
	return account, applied, nil
}

// ResetPeriod zeroes the period counter and moves the expiration forward.
// It reports false when another writer already handled the expiration.
func (r *AccountRepository) ResetPeriod(ctx context.Context, id string, u ExpirationUpdate) (bool, error) {
	const query = `
		UPDATE accounts
		SET words_used = 0, expiration_date = ?, updated_at = ?
		WHERE id = ? AND tier = ? AND expiration_date < ?`
	return r.execGuarded(ctx, query, dbTime(u.NextExpiration), dbTime(u.Now), id, u.ObservedTier, dbTime(u.Now))
}

// DowngradeToFree moves an expired paid account to the free tier. The
// period counter and status are kept. It reports false when another writer
// already handled the expiration.
func (r *AccountRepository) DowngradeToFree(ctx context.Context, id string, u ExpirationUpdate, wordLimit int64) (bool, error) {
	const query = `
		UPDATE accounts
		SET tier = ?, tier_category = ?, word_limit = ?, expiration_date = ?, updated_at = ?
		WHERE id = ? AND tier = ? AND expiration_date < ?`
	return r.execGuarded(ctx, query,
		types.TierFree, types.CategoryDaily, wordLimit, dbTime(u.NextExpiration), dbTime(u.Now),
		id, u.ObservedTier, dbTime(u.Now))
}

// UpdateTier applies a tier change and returns the updated account.
func (r *AccountRepository) UpdateTier(ctx context.Context, id string, u TierUpdate) (types.Account, error) {
	sets := []string{"tier = ?"}
	args := []any{u.Tier}
	if u.Category != nil {
		sets = append(sets, "tier_category = ?")
		args = append(args, *u.Category)
	}
	if u.WordLimit != nil {
		sets = append(sets, "word_limit = ?")
		args = append(args, *u.WordLimit)
	}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Expiration != nil {
		sets = append(sets, "expiration_date = ?")
		args = append(args, dbTime(*u.Expiration))
	}
	if u.ResetUsage {
		sets = append(sets, "words_used = 0")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, dbTime(u.Now), id)
	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	var account types.Account
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.dialect.Rebind(query), args...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		account, err = r.getTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) getTx(ctx context.Context, tx *sql.Tx, id string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return scanAccount(tx.QueryRowContext(ctx, r.dialect.Rebind(query), id))
}

func (r *AccountRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *AccountRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) execGuarded(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
