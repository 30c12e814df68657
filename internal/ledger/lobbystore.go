package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/wagerarena/internal/lifecycle"
	"github.com/rawblock/wagerarena/pkg/models"
)

// LobbyStore is the Postgres-backed persistence surface internal/lifecycle
// needs for lobbies, memberships and matches. It shares the same
// pool-scoped *pgxpool.Pool as Store, but is split into its own type
// because it answers a different narrow interface (lifecycle.Store) than
// the money-moving Store does.
type LobbyStore struct {
	pool *pgxpool.Pool
}

// NewLobbyStore constructs a LobbyStore over an already-connected pool.
func NewLobbyStore(pool *pgxpool.Pool) *LobbyStore {
	return &LobbyStore{pool: pool}
}

// SaveLobby upserts a lobby row and replaces its full membership set in one
// transaction — the controller always calls this with the complete
// membership slice, so a delete-then-reinsert is simpler and just as
// correct as a diff.
func (s *LobbyStore) SaveLobby(ctx context.Context, l *models.Lobby, members []models.Membership) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO lobbies (id, mode, buy_in_minor, payout_model, rake_bps, rake_cap_minor, state, house_account_id, capacity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state`,
		l.ID, l.Mode, l.BuyInMinor, l.PayoutModel, l.RakeBps, l.RakeCapMinor, l.State, l.HouseAccountID, l.Capacity, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert lobby: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM memberships WHERE lobby_id = $1`, l.ID); err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}
	for i, m := range members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memberships (lobby_id, account_id, team, seq) VALUES ($1, $2, $3, $4)`,
			m.LobbyID, m.AccountID, m.Team, i); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SaveMatch persists a Match row with ended_at = null. Called once, at
// promotion, before any gameplay event reaches a client — the commitment
// must be durable first.
func (s *LobbyStore) SaveMatch(ctx context.Context, m *models.Match) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO matches (id, lobby_id, seed_hex, nonce_hex, commit_hex, payout_model, rake_bps, rake_cap_minor,
		                      pot_minor, rake_minor, net_pot_minor, map_radius, tick_rate, state, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'countdown', now(), NULL)`,
		m.ID, m.LobbyID, m.SeedHex, m.NonceHex, m.Commit, m.PayoutModel, m.RakeBps, m.RakeCapMinor,
		m.PotMinor, m.RakeMinor, m.NetPotMinor, m.MapRadius, m.TickRate)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// MarkMatchEnded stamps ended_at, flips state to completed, and records the
// tick audit chain's final head (empty for a match recovered after a crash
// with no live chain; for a match aborted before any snapshot was emitted it
// is the chain's root, the commit hash).
func (s *LobbyStore) MarkMatchEnded(ctx context.Context, matchID string, endedAt time.Time, auditHead string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE matches SET ended_at = $1, state = 'completed', audit_head = $2 WHERE id = $3`, endedAt, auditHead, matchID)
	if err != nil {
		return fmt.Errorf("mark match ended: %w", err)
	}
	return nil
}

// UnsettledMatches returns every match with ended_at = null in
// countdown/active/shrink, alongside the members whose escrow the
// lifecycle recovery scan must refund.
func (s *LobbyStore) UnsettledMatches(ctx context.Context) ([]lifecycle.MatchRecovery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.lobby_id, l.buy_in_minor
		 FROM matches m JOIN lobbies l ON l.id = m.lobby_id
		 WHERE m.ended_at IS NULL AND m.state IN ('countdown', 'active', 'shrink')`)
	if err != nil {
		return nil, fmt.Errorf("query unsettled matches: %w", err)
	}
	defer rows.Close()

	var out []lifecycle.MatchRecovery
	for rows.Next() {
		var rec lifecycle.MatchRecovery
		if err := rows.Scan(&rec.MatchID, &rec.LobbyID, &rec.BuyIn); err != nil {
			return nil, fmt.Errorf("scan unsettled match: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		members, err := s.MembershipsFor(ctx, out[i].LobbyID)
		if err != nil {
			return nil, fmt.Errorf("memberships for recovery lobby %s: %w", out[i].LobbyID, err)
		}
		out[i].Members = members
	}
	return out, nil
}

// MembershipsFor returns every (account, team) row for a lobby.
func (s *LobbyStore) MembershipsFor(ctx context.Context, lobbyID string) ([]models.Membership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lobby_id, account_id, team FROM memberships WHERE lobby_id = $1 ORDER BY seq ASC`, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var out []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.LobbyID, &m.AccountID, &m.Team); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MatchByID loads a persisted match row, used by the verify(match_id)
// handler which needs the row independent of the in-process
// lifecycle registry (e.g. after a process restart, or for a spectator
// hitting verify on an old match).
func (s *LobbyStore) MatchByID(ctx context.Context, matchID string) (models.Match, error) {
	var m models.Match
	err := s.pool.QueryRow(ctx,
		`SELECT id, lobby_id, seed_hex, nonce_hex, commit_hex, payout_model, rake_bps, rake_cap_minor,
		        pot_minor, rake_minor, net_pot_minor, map_radius, tick_rate, started_at, ended_at, audit_head
		 FROM matches WHERE id = $1`, matchID,
	).Scan(&m.ID, &m.LobbyID, &m.SeedHex, &m.NonceHex, &m.Commit, &m.PayoutModel, &m.RakeBps, &m.RakeCapMinor,
		&m.PotMinor, &m.RakeMinor, &m.NetPotMinor, &m.MapRadius, &m.TickRate, &m.StartedAt, &m.EndedAt, &m.AuditHead)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Match{}, fmt.Errorf("match %s not found", matchID)
	}
	if err != nil {
		return models.Match{}, fmt.Errorf("load match: %w", err)
	}
	return m, nil
}

var _ lifecycleStoreShape = (*LobbyStore)(nil)

// lifecycleStoreShape mirrors lifecycle.Store's method set as a
// compile-time check without importing the interface into a var
// declaration that would need the concrete package cycle-free — ledger
// already imports lifecycle's models-only MatchRecovery type above, so this
// just documents the contract at a glance.
type lifecycleStoreShape interface {
	SaveLobby(ctx context.Context, l *models.Lobby, members []models.Membership) error
	SaveMatch(ctx context.Context, m *models.Match) error
	MarkMatchEnded(ctx context.Context, matchID string, endedAt time.Time, auditHead string) error
	UnsettledMatches(ctx context.Context) ([]lifecycle.MatchRecovery, error)
	MembershipsFor(ctx context.Context, lobbyID string) ([]models.Membership, error)
}
