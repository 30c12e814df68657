// Package models holds the persistence and wire data model shared by every
// component of the wager arena match engine: accounts, wallets, ledger
// entries, lobbies, matches and placements.
package models

import "time"

// KYCState is the player's know-your-customer verification state.
type KYCState string

const (
	KYCNone     KYCState = "none"
	KYCPending  KYCState = "pending"
	KYCApproved KYCState = "approved"
	KYCRejected KYCState = "rejected"
)

// Account is an opaque player identity. Mutated only by auth/KYC collaborators.
type Account struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	KYCState  KYCState  `json:"kycState"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Wallet is the single money-holding record for an account. available and
// escrow are both non-negative integer minor units; version increments on
// every mutation and backs optimistic concurrency control.
type Wallet struct {
	AccountID string    `json:"accountId"`
	Available int64     `json:"available"`
	Escrow    int64     `json:"escrow"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LedgerEntryKind enumerates the money-movement kinds a ledger row can record.
type LedgerEntryKind string

const (
	KindDeposit       LedgerEntryKind = "deposit"
	KindWithdrawal    LedgerEntryKind = "withdrawal"
	KindEscrowLock    LedgerEntryKind = "escrow_lock"
	KindEscrowRelease LedgerEntryKind = "escrow_release"
	KindPayout        LedgerEntryKind = "payout"
	KindRake          LedgerEntryKind = "rake"
	KindRefund        LedgerEntryKind = "refund"
)

// LedgerEntryStatus is the lifecycle state of a ledger row.
type LedgerEntryStatus string

const (
	StatusPending   LedgerEntryStatus = "pending"
	StatusCompleted LedgerEntryStatus = "completed"
	StatusFailed    LedgerEntryStatus = "failed"
	StatusCancelled LedgerEntryStatus = "cancelled"
)

// LedgerEntry is an immutable ledger row. Rows never change once they
// transition to StatusCompleted — corrections are new rows, not updates.
type LedgerEntry struct {
	ID             string            `json:"id"`
	AccountID      string            `json:"accountId"`
	MatchID        *string           `json:"matchId,omitempty"`
	Kind           LedgerEntryKind   `json:"kind"`
	DeltaMinor     int64             `json:"deltaMinor"` // signed minor-unit delta
	Status         LedgerEntryStatus `json:"status"`
	Reference      string            `json:"reference"` // opaque reference blob
	IdempotencyKey *string           `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// LobbyMode is the team size shape of a lobby.
type LobbyMode string

const (
	ModeSolo LobbyMode = "solo"
	ModeDuo  LobbyMode = "duo"
	ModeSquad LobbyMode = "squad"
)

// PayoutModel is the tagged variant selecting Settlement's payout function.
// Modeled as a closed enum with a total switch, per the no-inheritance design
// note — never add dynamic dispatch here.
type PayoutModel string

const (
	PayoutWinnerTakeAll PayoutModel = "winner_take_all"
	PayoutTop3Ladder    PayoutModel = "top3_ladder"
	PayoutProportional  PayoutModel = "proportional"
)

// LobbyState is the coarse lifecycle state of a lobby. internal/lifecycle
// moves a lobby through waiting, countdown, active, refunding and
// completed; the match's own shrink/settlement phases are not mirrored
// onto the lobby.
type LobbyState string

const (
	LobbyWaiting     LobbyState = "waiting"
	LobbyCountdown   LobbyState = "countdown"
	LobbyActive      LobbyState = "active"
	LobbyShrink      LobbyState = "shrink"
	LobbySettlement  LobbyState = "settlement"
	LobbyCompleted   LobbyState = "completed"
	LobbyRefunding   LobbyState = "refunding"
)

// Lobby is a pre-match staging area: a fixed buy-in, a payout model, and a
// set of (account, team) memberships.
type Lobby struct {
	ID              string      `json:"id"`
	Mode            LobbyMode   `json:"mode"`
	BuyInMinor      int64       `json:"buyInMinor"`
	PayoutModel     PayoutModel `json:"payoutModel"`
	RakeBps         int         `json:"rakeBps"` // 0..10000
	RakeCapMinor    *int64      `json:"rakeCapMinor,omitempty"`
	State           LobbyState  `json:"state"`
	HouseAccountID  string      `json:"houseAccountId"`
	CreatedAt       time.Time   `json:"createdAt"`
	Capacity        int         `json:"capacity"`
}

// Membership is a (lobby, account, team) row.
type Membership struct {
	LobbyID   string `json:"lobbyId"`
	AccountID string `json:"accountId"`
	Team      int    `json:"team"`
}

// Match is derived from a Lobby at countdown end.
type Match struct {
	ID           string      `json:"id"`
	LobbyID      string      `json:"lobbyId"`
	SeedHex      string      `json:"-"`                   // 32 bytes hex, withheld until completed
	NonceHex     string      `json:"-"`                   // 16 bytes hex, withheld until completed
	Commit       string      `json:"commit"`              // sha256(seed||nonce) hex
	PayoutModel  PayoutModel `json:"payoutModel"`
	RakeBps      int         `json:"rakeBps"`
	RakeCapMinor *int64      `json:"rakeCapMinor,omitempty"`
	PotMinor     int64       `json:"potMinor"`
	RakeMinor    int64       `json:"rakeMinor"`
	NetPotMinor  int64       `json:"netPotMinor"`
	MapRadius    float64     `json:"mapRadius"`
	TickRate     int         `json:"tickRate"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	EndedAt      *time.Time  `json:"endedAt,omitempty"`
	AuditHead    string      `json:"auditHead,omitempty"` // tick hash-chain head at ended_at
}

// Revealed is what verify(match_id) exposes once a match is completed: the
// seed/nonce pre-image and a reproduction of the deterministic draws that
// consumed them.
type Revealed struct {
	Commit          string  `json:"commit"`
	Seed            string  `json:"seed"`
	Nonce           string  `json:"nonce"`
	Algorithm       string  `json:"algorithm"`
	SpawnPositions  []Point `json:"spawnPositions"`
	PelletPositions []Point `json:"pelletPositions"`
	AuditHead       string  `json:"auditHead,omitempty"`
}

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Placement is the per-(match, player) outcome row.
type Placement struct {
	MatchID    string `json:"matchId"`
	AccountID  string `json:"accountId"`
	Team       int    `json:"team"`
	Placement  int    `json:"placement"` // 1..N
	FinalMass  float64 `json:"finalMass"`
	MaxMass    float64 `json:"maxMass"`
	PayoutMinor int64  `json:"payoutMinor"`
}
