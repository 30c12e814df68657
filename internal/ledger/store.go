// Package ledger implements the transactional money core: wallets, ledger
// rows, idempotency, and the escrow lock/refund/settle protocol. All money
// movement runs inside a single pgx transaction over a pool-scoped
// *pgxpool.Pool; optimistic concurrency is enforced via the wallet's
// version column and contention is retried through internal/retry. A
// Redis read-through cache fronts idempotency-key lookups so a hot retry
// storm against one key doesn't hammer the primary.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/wagerarena/internal/apperr"
	"github.com/rawblock/wagerarena/internal/cache"
	"github.com/rawblock/wagerarena/internal/retry"
	"github.com/rawblock/wagerarena/pkg/models"
)

// IdempotencyCache is the narrow interface the ledger needs from
// internal/cache; satisfied by *cache.IdempotencyCache. Tests pass nil,
// which disables the cache, so the ledger's transactional logic is
// testable without a live Redis.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, ledgerEntryID string, ttl time.Duration)
}

// Store is the pool-scoped ledger store.
type Store struct {
	pool  *pgxpool.Pool
	cache IdempotencyCache
	retry retry.Config
}

// New constructs a Store. cache may be nil to disable the read-through
// idempotency cache (falls back straight to the transactional row).
func New(pool *pgxpool.Pool, idemCache IdempotencyCache) *Store {
	return &Store{pool: pool, cache: idemCache, retry: retry.DefaultConfig()}
}

func isSerializationFailure(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return errors.Is(err, apperr.ErrOptimisticConflict)
}

// withTx runs fn inside a transaction, retrying on optimistic-concurrency
// or serialization conflicts per s.retry.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return retry.Do(ctx, s.retry, isSerializationFailure, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// checkIdempotency looks up key (cache first, falling back to the
// completed-entry row) and returns the prior entry id if one exists.
// Returns apperr.ErrDuplicateRequest if a row with this key is still
// pending (a concurrent caller is mid-flight).
func (s *Store) checkIdempotency(ctx context.Context, tx pgx.Tx, key string) (string, bool, error) {
	if s.cache != nil {
		if id, ok := s.cache.Get(ctx, key); ok {
			return id, true, nil
		}
	}

	var id string
	var status models.LedgerEntryStatus
	err := tx.QueryRow(ctx,
		`SELECT id, status FROM ledger_entries WHERE idempotency_key = $1`, key,
	).Scan(&id, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup: %w", err)
	}

	switch status {
	case models.StatusCompleted:
		if s.cache != nil {
			s.cache.Set(ctx, key, id, 24*time.Hour)
		}
		return id, true, nil
	case models.StatusPending:
		return "", false, apperr.ErrDuplicateRequest
	default:
		return "", false, nil // failed/cancelled rows don't block a retry under the same key
	}
}

func newEntryID() string { return uuid.NewString() }

// lockWallet takes a FOR UPDATE row lock and returns the wallet.
func lockWallet(ctx context.Context, tx pgx.Tx, accountID string) (models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRow(ctx,
		`SELECT account_id, available, escrow, version, updated_at
		 FROM wallets WHERE account_id = $1 FOR UPDATE`, accountID,
	).Scan(&w.AccountID, &w.Available, &w.Escrow, &w.Version, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, apperr.New(apperr.KindNotFound, "wallet_not_found", apperr.ErrNotFound)
	}
	if err != nil {
		return models.Wallet{}, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

// lockKYCState takes a FOR UPDATE row lock on the account and returns its
// current KYC state, in the same transaction as the wallet mutation so the
// check can't be stale by commit time.
func lockKYCState(ctx context.Context, tx pgx.Tx, accountID string) (models.KYCState, error) {
	var state models.KYCState
	err := tx.QueryRow(ctx,
		`SELECT kyc_state FROM accounts WHERE id = $1 FOR UPDATE`, accountID,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.New(apperr.KindNotFound, "account_not_found", apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lock account kyc state: %w", err)
	}
	return state, nil
}

// saveWallet writes back available/escrow, bumping version and asserting
// the row still matched the version read under the FOR UPDATE lock (belt
// and suspenders alongside the row lock itself).
func saveWallet(ctx context.Context, tx pgx.Tx, w models.Wallet) error {
	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET available = $1, escrow = $2, version = version + 1, updated_at = now()
		 WHERE account_id = $3 AND version = $4`,
		w.Available, w.Escrow, w.AccountID, w.Version)
	if err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrOptimisticConflict
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e models.LedgerEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, match_id, kind, delta_minor, status, reference, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.AccountID, e.MatchID, e.Kind, e.DeltaMinor, e.Status, e.Reference, e.IdempotencyKey, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// Deposit credits available funds. Idempotent when key is non-empty.
func (s *Store) Deposit(ctx context.Context, accountID string, amountMinor int64, reference string, key string) (string, error) {
	if amountMinor <= 0 {
		return "", apperr.New(apperr.KindValidation, "amount_must_be_positive", nil)
	}

	var entryID string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if key != "" {
			if id, found, err := s.checkIdempotency(ctx, tx, key); err != nil {
				return err
			} else if found {
				entryID = id
				return nil
			}
		}

		w, err := lockWallet(ctx, tx, accountID)
		if err != nil {
			return err
		}
		w.Available += amountMinor

		entryID = newEntryID()
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		return insertEntry(ctx, tx, newCompletedEntry(entryID, accountID, nil, models.KindDeposit, amountMinor, reference, key))
	})
	return entryID, err
}

// Withdraw debits available funds. Requires the account's KYC state to be
// approved, checked under the same row lock as the wallet mutation so a
// concurrent KYC revocation can't race a withdrawal past the gate.
func (s *Store) Withdraw(ctx context.Context, accountID string, amountMinor int64, method string, key string) (string, error) {
	if amountMinor <= 0 {
		return "", apperr.New(apperr.KindValidation, "amount_must_be_positive", nil)
	}

	var entryID string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if key != "" {
			if id, found, err := s.checkIdempotency(ctx, tx, key); err != nil {
				return err
			} else if found {
				entryID = id
				return nil
			}
		}

		kyc, err := lockKYCState(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if kyc != models.KYCApproved {
			return apperr.New(apperr.KindUnauthorized, "kyc_not_approved", apperr.ErrUnauthorized)
		}

		w, err := lockWallet(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if w.Available < amountMinor {
			return apperr.New(apperr.KindInsufficient, "insufficient_available", apperr.ErrInsufficientFunds)
		}
		w.Available -= amountMinor

		entryID = newEntryID()
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		return insertEntry(ctx, tx, newCompletedEntry(entryID, accountID, nil, models.KindWithdrawal, -amountMinor, method, key))
	})
	return entryID, err
}

// LockEscrow moves amountMinor from available to escrow for a lobby join.
func (s *Store) LockEscrow(ctx context.Context, accountID string, amountMinor int64, lobbyID string) error {
	if amountMinor <= 0 {
		return apperr.New(apperr.KindValidation, "amount_must_be_positive", nil)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		w, err := lockWallet(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if w.Available < amountMinor {
			return apperr.New(apperr.KindInsufficient, "insufficient_available", apperr.ErrInsufficientFunds)
		}
		w.Available -= amountMinor
		w.Escrow += amountMinor

		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		return insertEntry(ctx, tx, newCompletedEntry(newEntryID(), accountID, &lobbyID, models.KindEscrowLock, -amountMinor, "lobby:"+lobbyID, ""))
	})
}

// RefundEscrow moves amountMinor from escrow back to available.
func (s *Store) RefundEscrow(ctx context.Context, accountID string, amountMinor int64, matchRef string) error {
	if amountMinor <= 0 {
		return apperr.New(apperr.KindValidation, "amount_must_be_positive", nil)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		w, err := lockWallet(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if w.Escrow < amountMinor {
			return apperr.New(apperr.KindInsufficient, "insufficient_escrow", apperr.ErrInsufficientFunds)
		}
		w.Escrow -= amountMinor
		w.Available += amountMinor

		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		return insertEntry(ctx, tx, newCompletedEntry(newEntryID(), accountID, &matchRef, models.KindRefund, amountMinor, "refund:"+matchRef, ""))
	})
}

// SettlePayout is one (account, payout) line of a Settle call.
type SettlePayout struct {
	AccountID   string
	BuyInMinor  int64
	PayoutMinor int64
}

// Settle applies a match's final money movement in one transaction: each
// member's escrowed buy-in is released and their payout credited, and a
// single rake entry is posted against the house account when the rake is
// non-zero. Idempotent at the match_id grain — a retry after a completed
// settle (any payout or rake row already written for the match) is a no-op.
func (s *Store) Settle(ctx context.Context, matchID, houseAccountID string, payouts []SettlePayout, rakeMinor int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var alreadySettled bool
		err := tx.QueryRow(ctx,
			`SELECT true FROM ledger_entries WHERE match_id = $1 AND kind IN ($2, $3) LIMIT 1`,
			matchID, models.KindPayout, models.KindRake,
		).Scan(&alreadySettled)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("settle idempotency check: %w", err)
		}
		if alreadySettled {
			return nil
		}

		for _, p := range payouts {
			w, err := lockWallet(ctx, tx, p.AccountID)
			if err != nil {
				return err
			}
			if w.Escrow < p.BuyInMinor {
				return apperr.New(apperr.KindIntegrity, "escrow_underflow", apperr.ErrIntegrityViolation)
			}
			w.Escrow -= p.BuyInMinor
			w.Available += p.PayoutMinor
			if err := saveWallet(ctx, tx, w); err != nil {
				return err
			}
			if err := insertEntry(ctx, tx, newCompletedEntry(newEntryID(), p.AccountID, &matchID, models.KindPayout, p.PayoutMinor, "settle:"+matchID, "")); err != nil {
				return err
			}
		}

		if rakeMinor > 0 {
			house, err := lockWallet(ctx, tx, houseAccountID)
			if err != nil {
				return err
			}
			house.Available += rakeMinor
			if err := saveWallet(ctx, tx, house); err != nil {
				return err
			}
			if err := insertEntry(ctx, tx, newCompletedEntry(newEntryID(), houseAccountID, &matchID, models.KindRake, rakeMinor, "rake:"+matchID, "")); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns a cursor-paginated page of ledger entries for an
// account, newest first.
func (s *Store) History(ctx context.Context, accountID string, cursor time.Time, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, match_id, kind, delta_minor, status, reference, idempotency_key, created_at
		 FROM ledger_entries WHERE account_id = $1 AND created_at < $2
		 ORDER BY created_at DESC LIMIT $3`, accountID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.MatchID, &e.Kind, &e.DeltaMinor, &e.Status, &e.Reference, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func newCompletedEntry(id, accountID string, matchID *string, kind models.LedgerEntryKind, deltaMinor int64, reference, idemKey string) models.LedgerEntry {
	e := models.LedgerEntry{
		ID: id, AccountID: accountID, MatchID: matchID, Kind: kind,
		DeltaMinor: deltaMinor, Status: models.StatusCompleted, Reference: reference,
		CreatedAt: time.Now(),
	}
	if idemKey != "" {
		e.IdempotencyKey = &idemKey
	}
	return e
}

var _ IdempotencyCache = (*cache.IdempotencyCache)(nil) // compile-time interface check
