// Package lifecycle owns the lobby→match→settled state machine: join/leave
// protocols atomic across the controller and the ledger, promotion of a
// full lobby to a running match, and crash recovery. The in-process
// registry is an RWMutex-guarded map[id]*Runtime with Create/Get/List and
// explicit status transitions, no ORM or external scheduler involved.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/wagerarena/internal/apperr"
	"github.com/rawblock/wagerarena/internal/match"
	"github.com/rawblock/wagerarena/internal/provenance"
	"github.com/rawblock/wagerarena/internal/telemetry"
	"github.com/rawblock/wagerarena/pkg/models"
)

// Ledger is the narrow escrow surface the controller drives.
type Ledger interface {
	LockEscrow(ctx context.Context, accountID string, amountMinor int64, lobbyID string) error
	RefundEscrow(ctx context.Context, accountID string, amountMinor int64, matchRef string) error
}

// Store is the narrow persistence surface for lobbies/matches. Production
// wiring is Postgres-backed (see internal/ledger.Connect for the pool);
// tests substitute an in-memory fake.
type Store interface {
	SaveLobby(ctx context.Context, l *models.Lobby, members []models.Membership) error
	SaveMatch(ctx context.Context, m *models.Match) error
	MarkMatchEnded(ctx context.Context, matchID string, endedAt time.Time, auditHead string) error
	UnsettledMatches(ctx context.Context) ([]MatchRecovery, error)
	MembershipsFor(ctx context.Context, lobbyID string) ([]models.Membership, error)
}

// MatchRecovery is the minimal row shape the recovery scan needs.
type MatchRecovery struct {
	MatchID  string
	LobbyID  string
	BuyIn    int64
	Members  []models.Membership
}

// Settler computes and applies a match's final payouts through the ledger
// in one transaction. It is a function value rather than an interface so
// the controller never needs to import internal/settlement or
// internal/ledger directly — internal/ledger already depends on
// internal/lifecycle (for the Store interface), and lifecycle importing
// either back would cycle. cmd/arena wires the real
// settlement.Settle/ledger.Store pair behind this closure.
type Settler func(ctx context.Context, matchID, houseAccountID string, placements []models.Placement, model models.PayoutModel, potMinor, buyInMinor int64, rakeBps int, rakeCapMinor *int64) (int64, error)

// Runtime is a lobby's in-memory state: its persisted record plus, once
// promoted, the live simulation.
type Runtime struct {
	mu         sync.Mutex
	Lobby      models.Lobby
	Members    []models.Membership
	Match      *models.Match
	Sim        *match.Match
	cancel     context.CancelFunc
}

// WaitingTimeout bounds how long a lobby waits for a full roster before
// the controller promotes it anyway, even with a single member. A lobby
// with zero members at expiry is left waiting rather than promoted into an
// empty match.
const WaitingTimeout = 2 * time.Minute

// Controller is the single-process registry of live lobbies/matches.
type Controller struct {
	mu      sync.RWMutex
	lobbies map[string]*Runtime

	ledger    Ledger
	store     Store
	settler   Settler
	logger    *zap.Logger
	mapRadius float64
	tickRate  int
}

// SetSettler wires the settlement callback StartMatch invokes on a match's
// terminal tick. Left nil, StartMatch still runs the simulation to
// completion but skips settlement — used by tests that only exercise
// join/leave/promote/abort.
func (c *Controller) SetSettler(s Settler) { c.settler = s }

// SetLogger wires the logger settle uses to raise an integrity alert when
// the Settler fails. Left nil, settle still leaves the match unsettled for
// Recover to pick up, it just doesn't log the alert.
func (c *Controller) SetLogger(l *zap.Logger) { c.logger = l }

// Configure sets the simulation parameters fill/timer-triggered promotion
// needs, since that path has no per-request caller to supply them.
func (c *Controller) Configure(mapRadius float64, tickRate int) {
	c.mapRadius = mapRadius
	c.tickRate = tickRate
}

// New constructs a Controller bound to a ledger and persistence store.
func New(ledger Ledger, store Store) *Controller {
	return &Controller{
		lobbies: make(map[string]*Runtime),
		ledger:  ledger,
		store:   store,
	}
}

// CreateLobby registers a new waiting lobby.
func (c *Controller) CreateLobby(lobby models.Lobby) *Runtime {
	lobby.State = models.LobbyWaiting
	lobby.CreatedAt = time.Now()
	rt := &Runtime{Lobby: lobby}

	c.mu.Lock()
	c.lobbies[lobby.ID] = rt
	c.mu.Unlock()

	go c.watchWaitingTimeout(lobby.ID)
	return rt
}

// watchWaitingTimeout is the timer side of lobby promotion: a lobby that
// never fills still starts once it has at least one member and
// WaitingTimeout has elapsed.
func (c *Controller) watchWaitingTimeout(lobbyID string) {
	timer := time.NewTimer(WaitingTimeout)
	defer timer.Stop()
	<-timer.C

	rt := c.Get(lobbyID)
	if rt == nil {
		return
	}
	rt.mu.Lock()
	promotable := rt.Lobby.State == models.LobbyWaiting && len(rt.Members) > 0
	rt.mu.Unlock()
	if promotable {
		c.tryAutoPromote(context.Background(), lobbyID)
	}
}

// tryAutoPromote drives the timer trigger of "fill or timer". Promote's
// own state check makes this a harmless no-op if the lobby was already
// promoted via the fill path (PromoteAndStart, called from the API layer)
// in the meantime.
func (c *Controller) tryAutoPromote(ctx context.Context, lobbyID string) {
	_ = c.PromoteAndStart(ctx, lobbyID)
}

// Get returns the runtime for a lobby id, or nil.
func (c *Controller) Get(lobbyID string) *Runtime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lobbies[lobbyID]
}

// List returns every tracked lobby runtime.
func (c *Controller) List() []*Runtime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Runtime, 0, len(c.lobbies))
	for _, rt := range c.lobbies {
		out = append(out, rt)
	}
	return out
}

// ByMatchID finds the runtime owning matchID, or nil. Used by the ingress
// websocket upgrade handler, which only knows the match id from the URL.
func (c *Controller) ByMatchID(matchID string) *Runtime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rt := range c.lobbies {
		rt.mu.Lock()
		match := rt.Match
		rt.mu.Unlock()
		if match != nil && match.ID == matchID {
			return rt
		}
	}
	return nil
}

// CellFor implements session.MemberLookup: it resolves an authenticated
// account to its cell id within a match. Cell ids are assigned 1..N in
// membership-insertion order at Promote time (see match.Member{CellID}),
// so the lookup replicates that same order here rather than reaching into
// the simulation's private state.
func (c *Controller) CellFor(matchID, accountID string) (int, bool) {
	rt := c.ByMatchID(matchID)
	if rt == nil {
		return 0, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, m := range rt.Members {
		if m.AccountID == accountID {
			return i + 1, true
		}
	}
	return 0, false
}

// Join executes the join protocol: row-lock (the runtime's mutex stands in
// for the lobby row lock in-process), reject if not waiting/full/already a
// member, lock escrow, insert membership, persist. Any failure after the
// escrow lock triggers a compensating refund so no step is ever partially
// applied from the caller's point of view.
func (c *Controller) Join(ctx context.Context, lobbyID, accountID string, team int) error {
	rt := c.Get(lobbyID)
	if rt == nil {
		return apperr.New(apperr.KindNotFound, "lobby_not_found", apperr.ErrNotFound)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.Lobby.State != models.LobbyWaiting {
		return apperr.New(apperr.KindConflict, "lobby_not_waiting", apperr.ErrInvalidState)
	}
	if len(rt.Members) >= rt.Lobby.Capacity {
		return apperr.New(apperr.KindConflict, "lobby_full", apperr.ErrInvalidState)
	}
	for _, m := range rt.Members {
		if m.AccountID == accountID {
			return apperr.New(apperr.KindConflict, "already_a_member", apperr.ErrInvalidState)
		}
	}

	if err := c.ledger.LockEscrow(ctx, accountID, rt.Lobby.BuyInMinor, lobbyID); err != nil {
		return fmt.Errorf("lock escrow: %w", err)
	}

	member := models.Membership{LobbyID: lobbyID, AccountID: accountID, Team: team}
	rt.Members = append(rt.Members, member)

	if err := c.store.SaveLobby(ctx, &rt.Lobby, rt.Members); err != nil {
		// roll back: drop the membership we just appended and refund escrow
		rt.Members = rt.Members[:len(rt.Members)-1]
		if refundErr := c.ledger.RefundEscrow(ctx, accountID, rt.Lobby.BuyInMinor, lobbyID); refundErr != nil {
			return fmt.Errorf("save lobby failed (%v) and refund failed (%w)", err, refundErr)
		}
		return fmt.Errorf("save lobby: %w", err)
	}
	return nil
}

// Full reports whether a lobby has reached capacity, letting a caller
// decide to promote immediately rather than wait for WaitingTimeout —
// the "fill" side of fill-or-timer promotion.
func (c *Controller) Full(lobbyID string) bool {
	rt := c.Get(lobbyID)
	if rt == nil {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.Members) >= rt.Lobby.Capacity
}

// PromoteAndStart is the exported entry point for triggering promotion
// outside the controller itself (the fill-triggered path from the API
// layer). It is exactly tryAutoPromote's body, exported so callers who
// aren't the timer goroutine can drive the same promote-then-run sequence.
func (c *Controller) PromoteAndStart(ctx context.Context, lobbyID string) error {
	rt, err := c.Promote(ctx, lobbyID, c.mapRadius, c.tickRate)
	if err != nil {
		return err
	}
	c.StartMatch(context.Background(), rt)
	return nil
}

// Leave executes the leave protocol: only valid pre-countdown, symmetric to
// Join, releasing escrow via refund_escrow.
func (c *Controller) Leave(ctx context.Context, lobbyID, accountID string) error {
	rt := c.Get(lobbyID)
	if rt == nil {
		return apperr.New(apperr.KindNotFound, "lobby_not_found", apperr.ErrNotFound)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.Lobby.State != models.LobbyWaiting {
		return apperr.New(apperr.KindConflict, "lobby_not_waiting", apperr.ErrInvalidState)
	}

	idx := -1
	for i, m := range rt.Members {
		if m.AccountID == accountID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return apperr.New(apperr.KindNotFound, "not_a_member", apperr.ErrNotFound)
	}

	if err := c.ledger.RefundEscrow(ctx, accountID, rt.Lobby.BuyInMinor, lobbyID); err != nil {
		return fmt.Errorf("refund escrow: %w", err)
	}

	rt.Members = append(rt.Members[:idx], rt.Members[idx+1:]...)
	return c.store.SaveLobby(ctx, &rt.Lobby, rt.Members)
}

// Promote materializes a Match from a full (or timer-expired) lobby: draws
// the commitment, computes pot/rake, persists the Match record with
// ended_at = null, and ONLY THEN builds the simulation (StartMatch runs
// it) — the commitment must be durable before any gameplay event reaches
// a client.
func (c *Controller) Promote(ctx context.Context, lobbyID string, mapRadius float64, tickRate int) (*Runtime, error) {
	rt := c.Get(lobbyID)
	if rt == nil {
		return nil, apperr.New(apperr.KindNotFound, "lobby_not_found", apperr.ErrNotFound)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.Lobby.State != models.LobbyWaiting {
		return nil, apperr.New(apperr.KindConflict, "lobby_not_waiting", apperr.ErrInvalidState)
	}

	commitment, commitHex, err := provenance.GenerateCommitment()
	if err != nil {
		return nil, fmt.Errorf("generate commitment: %w", err)
	}

	pot := rt.Lobby.BuyInMinor * int64(len(rt.Members))
	rakeCap := rt.Lobby.RakeCapMinor
	rake := pot * int64(rt.Lobby.RakeBps) / 10000
	if rakeCap != nil && rake > *rakeCap {
		rake = *rakeCap
	}

	m := &models.Match{
		ID:           uuid.NewString(),
		LobbyID:      lobbyID,
		SeedHex:      commitment.SeedHex(),
		NonceHex:     commitment.NonceHex(),
		Commit:       commitHex,
		PayoutModel:  rt.Lobby.PayoutModel,
		RakeBps:      rt.Lobby.RakeBps,
		RakeCapMinor: rakeCap,
		PotMinor:     pot,
		RakeMinor:    rake,
		NetPotMinor:  pot - rake,
		MapRadius:    mapRadius,
		TickRate:     tickRate,
	}

	if err := c.store.SaveMatch(ctx, m); err != nil {
		return nil, fmt.Errorf("persist match (commitment not revealed): %w", err)
	}

	rt.Lobby.State = models.LobbyCountdown
	rt.Match = m

	members := make([]match.Member, len(rt.Members))
	for i, mem := range rt.Members {
		members[i] = match.Member{AccountID: mem.AccountID, CellID: i + 1, Team: mem.Team}
	}
	rt.Sim = match.New(m.ID, lobbyID, m.SeedHex, rt.Lobby.BuyInMinor, mapRadius, members, commitHex)

	return rt, nil
}

// StartMatch runs rt's simulation to completion on its own goroutine — the
// Match's single logical owner. On natural termination it
// computes and applies settlement, then marks the match ended; on context
// cancellation (administrative abort or crash signal) it leaves the refund
// path to Abort, which already holds rt.mu and cancels this same context.
// Callers must call this exactly once per promoted runtime, after Promote
// returns and before any client can observe the commitment.
func (c *Controller) StartMatch(parent context.Context, rt *Runtime) {
	ctx, cancel := context.WithCancel(parent)

	rt.mu.Lock()
	rt.cancel = cancel
	rt.Lobby.State = models.LobbyActive
	sim := rt.Sim
	m := rt.Match
	rt.mu.Unlock()

	go func() {
		outcome := sim.Run(ctx, m.TickRate)
		if ctx.Err() != nil {
			return // cancelled: Abort owns the refund path for this runtime
		}
		c.settle(parent, rt, outcome, sim.AuditHead())
	}()
}

// settle applies the Settler callback (if wired) to a naturally-completed
// match's outcome and finalizes bookkeeping, persisting the tick-by-tick
// audit chain's final head alongside ended_at so verify(match_id) can
// surface it. Idempotent at the match_id grain because the underlying
// ledger.Settle call is.
func (c *Controller) settle(ctx context.Context, rt *Runtime, outcome *match.Outcome, auditHead string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if outcome == nil || rt.Match == nil {
		return
	}

	if c.settler != nil {
		if _, err := c.settler(ctx, rt.Match.ID, rt.Lobby.HouseAccountID, outcome.Placements,
			rt.Match.PayoutModel, rt.Match.PotMinor, rt.Lobby.BuyInMinor, rt.Match.RakeBps, rt.Match.RakeCapMinor); err != nil {
			// Settlement failure is lifecycle-fatal: the match
			// is left unsettled (ended_at still null) so the next boot's
			// Recover scan refunds it rather than silently stranding escrow.
			if c.logger != nil {
				telemetry.Alert(c.logger, rt.Match.ID, "settlement_failed", err)
			}
			return
		}
	}

	rt.Lobby.State = models.LobbyCompleted
	rt.Match.AuditHead = auditHead
	_ = c.store.MarkMatchEnded(ctx, rt.Match.ID, time.Now(), auditHead)
}

// Abort transitions a lobby/match to refunding and refunds every member's
// escrow — used for administrative abort. The boot-time recovery scan
// (Recover, below) runs its own refund loop over persisted rows instead.
func (c *Controller) Abort(ctx context.Context, rt *Runtime) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.cancel != nil {
		rt.cancel()
	}
	rt.Lobby.State = models.LobbyRefunding

	var firstErr error
	for _, mem := range rt.Members {
		if err := c.ledger.RefundEscrow(ctx, mem.AccountID, rt.Lobby.BuyInMinor, rt.Lobby.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("refund during abort: %w", firstErr)
	}

	rt.Lobby.State = models.LobbyCompleted
	if rt.Match != nil {
		auditHead := ""
		if rt.Sim != nil {
			auditHead = rt.Sim.AuditHead()
		}
		return c.store.MarkMatchEnded(ctx, rt.Match.ID, time.Now(), auditHead)
	}
	return nil
}

// Recover runs on process boot: any match with ended_at = null in
// countdown/active/shrink MUST be fully refunded and marked completed, so
// no escrow is ever orphaned by a crash mid-match.
func (c *Controller) Recover(ctx context.Context) error {
	unsettled, err := c.store.UnsettledMatches(ctx)
	if err != nil {
		return fmt.Errorf("list unsettled matches: %w", err)
	}

	var firstErr error
	for _, rec := range unsettled {
		for _, mem := range rec.Members {
			if err := c.ledger.RefundEscrow(ctx, mem.AccountID, rec.BuyIn, rec.MatchID); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("recovery refund for match %s: %w", rec.MatchID, err)
			}
		}
		if err := c.store.MarkMatchEnded(ctx, rec.MatchID, time.Now(), ""); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("recovery mark-ended for match %s: %w", rec.MatchID, err)
		}
	}
	return firstErr
}
