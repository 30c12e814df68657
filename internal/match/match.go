// Package match owns per-match simulation state: the tick loop, cell/pellet
// population, phase transitions (countdown → active → shrink →
// settlement), and snapshot/event emission. A Match is the single logical
// owner of its cells and pellets — no other component mutates them; inputs
// arrive over a bounded channel and are applied only by the owning
// goroutine.
package match

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/rawblock/wagerarena/internal/physics"
	"github.com/rawblock/wagerarena/internal/provenance"
	"github.com/rawblock/wagerarena/pkg/models"
)

// Phase is the simulation substate of a Match.
type Phase string

const (
	PhaseCountdown  Phase = "countdown"
	PhaseActive     Phase = "active"
	PhaseShrink     Phase = "shrink"
	PhaseSettlement Phase = "settlement"
)

const (
	CountdownDuration = 10 * time.Second
	ActiveDuration    = 4*time.Minute + 30*time.Second
	ShrinkDuration    = 1*time.Minute + 30*time.Second
	HardCap           = ActiveDuration + ShrinkDuration // 6 minutes from active entry

	InitialPellets     = 500
	MaxPellets         = 500
	SpawnDiskFraction  = 0.7
	PelletSpawnProb    = 0.1
	ShrinkFogFraction  = 0.65
	ShrinkSpawnHalving = 0.5
)

// EventKind enumerates the outbound EVENT{} kinds.
type EventKind string

const (
	EventCountdown EventKind = "COUNTDOWN"
	EventKill      EventKind = "KILL"
	EventShrink    EventKind = "SHRINK"
	EventEnd       EventKind = "END"
)

// Event is a single simulation event emitted during a tick.
type Event struct {
	Kind EventKind   `json:"kind"`
	Data interface{} `json:"data,omitempty"`
}

// KillData is the payload of a KILL event.
type KillData struct {
	Killer int `json:"killer"`
	Victim int `json:"victim"`
}

// Input is a single player input sample. Axes must have length <= 1.
type Input struct {
	CellID    int
	Axes      physics.Vec2
	Boost     bool
	ClientSeq uint64
	ClientTS  int64
}

// Member is a single (account, cell, team) binding established at match
// creation from the originating lobby's membership table.
type Member struct {
	AccountID string
	CellID    int
	Team      int
}

// CellSnapshot/PelletSnapshot/Snapshot make up the outbound snapshot payload.
type CellSnapshot struct {
	ID     int     `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Mass   float64 `json:"mass"`
	Team   int     `json:"team"`
	IsDead bool    `json:"isDead"`
}

type PelletSnapshot struct {
	ID     int     `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

type Snapshot struct {
	Tick      int64            `json:"tick"`
	Cells     []CellSnapshot   `json:"cells"`
	Pellets   []PelletSnapshot `json:"pellets"`
	FogRadius float64          `json:"fogRadius"`
}

// Outcome is what a Match hands to Settlement on its terminal tick: the
// placement vector, cells sorted by final mass descending with ties broken
// by account id ascending.
type Outcome struct {
	Placements []models.Placement
}

// Match is the single-owner simulation runtime for one match.
type Match struct {
	ID         string
	LobbyID    string
	BuyInMinor int64
	MapRadius  float64
	GrowthCap  float64

	phase       Phase
	tick        int64
	activeSince int64 // tick index active phase was entered, 0 until set
	fogRadius   float64

	cells      map[int]*physics.Cell
	pellets    map[int]*physics.Pellet
	nextPellet int
	members    []Member
	memberOf   map[int]string // cellID -> accountID

	spawnStream  *provenance.Stream
	pelletStream *provenance.Stream
	shrinkStream *provenance.Stream
	audit        *provenance.AuditChain

	inputs chan Input
	latest map[int]Input

	subsMu  sync.Mutex
	subs    map[int]*Subscriber
	nextSub int

	outcome *Outcome
}

// Subscriber is one connected session's fan-out sink. Every subscriber gets
// its own buffered snapshot/event channels so a slow session only drops its
// own frames — Match broadcasts to every live Subscriber, it never
// load-balances a single shared channel across them.
type Subscriber struct {
	id        int
	snapshots chan []byte
	events    chan Event
}

// Snapshots returns this subscriber's LZ4-compressed snapshot feed.
func (s *Subscriber) Snapshots() <-chan []byte { return s.snapshots }

// Events returns this subscriber's event feed.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Subscribe registers a new fan-out sink, called once per connected
// session. Callers must Unsubscribe when the session ends.
func (m *Match) Subscribe() *Subscriber {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	sub := &Subscriber{
		id:        m.nextSub,
		snapshots: make(chan []byte, 8),
		events:    make(chan Event, 64),
	}
	m.nextSub++
	m.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber from the fan-out set.
func (m *Match) Unsubscribe(sub *Subscriber) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	delete(m.subs, sub.id)
}

func (m *Match) broadcastEvent(e Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub.events <- e:
		default:
			// Outbound event queue is bounded; a stalled consumer must not
			// block the tick loop. A dropped EVENT is non-fatal — snapshots
			// carry the authoritative state on the very next tick.
		}
	}
}

func (m *Match) broadcastSnapshot(b []byte) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub.snapshots <- b:
		default:
			// A slow fan-out consumer must never stall the tick loop; the
			// next snapshot supersedes a dropped one within 33ms.
		}
	}
}

// New constructs a Match in the countdown phase. seed is the 32-byte
// commitment seed; members establishes the cell/team bindings up front so
// the whole match is deterministic from this point on.
func New(id, lobbyID string, seedHex string, buyInMinor int64, mapRadius float64, members []Member, commitHash string) *Match {
	seed, _ := hex.DecodeString(seedHex)

	m := &Match{
		ID:           id,
		LobbyID:      lobbyID,
		BuyInMinor:   buyInMinor,
		MapRadius:    mapRadius,
		GrowthCap:    physics.GrowthCap(buyInMinor),
		phase:        PhaseCountdown,
		fogRadius:    mapRadius,
		cells:        make(map[int]*physics.Cell),
		pellets:      make(map[int]*physics.Pellet),
		members:      members,
		memberOf:     make(map[int]string),
		spawnStream:  provenance.NewStream(seed, "spawn"),
		pelletStream: provenance.NewStream(seed, "pellets"),
		shrinkStream: provenance.NewStream(seed, "shrink"),
		audit:        provenance.NewAuditChain(commitHash),
		inputs:       make(chan Input, 256),
		latest:       make(map[int]Input),
		subs:         make(map[int]*Subscriber),
	}

	for _, mem := range members {
		pos := Vec2FromDisk(m.spawnStream, mapRadius*SpawnDiskFraction)
		m.cells[mem.CellID] = physics.NewCell(mem.CellID, mem.Team, pos, 10)
		m.memberOf[mem.CellID] = mem.AccountID
	}

	for i := 0; i < InitialPellets; i++ {
		m.spawnPellet(mapRadius)
	}

	return m
}

// Vec2FromDisk draws a uniform point in a disk of radius r from stream s.
func Vec2FromDisk(s *provenance.Stream, r float64) physics.Vec2 {
	x, y := s.PointInDisk(r)
	return physics.Vec2{X: x, Y: y}
}

func (m *Match) spawnPellet(mapRadius float64) {
	if len(m.pellets) >= MaxPellets {
		return
	}
	pos := Vec2FromDisk(m.pelletStream, mapRadius)
	id := m.nextPellet
	m.nextPellet++
	m.pellets[id] = &physics.Pellet{ID: id, Pos: pos}
}

// Inputs returns the channel sessions push validated inputs into. Only the
// Match's own Run loop should ever receive from it.
func (m *Match) Inputs() chan Input { return m.inputs }

// Run drives the tick loop until ctx is cancelled or the match reaches
// settlement. It is meant to run on a single dedicated goroutine — the
// Match's only owner — and applies inputs in arrival order per player.
func (m *Match) Run(ctx context.Context, tickRate int) *Outcome {
	dt := 1.0 / float64(tickRate)
	ticker := time.NewTicker(time.Duration(float64(time.Second) * dt))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.outcome
		case in := <-m.inputs:
			m.drainAndApplyInput(in)
		case <-ticker.C:
			m.step(dt)
			if m.phase == PhaseSettlement {
				return m.outcome
			}
		}
	}
}

// drainAndApplyInput stores the latest axes/boost for the next tick,
// coalescing extra inputs that arrive faster than the tick rate.
func (m *Match) drainAndApplyInput(in Input) {
	if in.Axes.Len() > 1 {
		return // validation error: caller (session) should have rejected this
	}
	m.latest[in.CellID] = in
}

func (m *Match) step(dt float64) {
	m.tick++

	switch m.phase {
	case PhaseCountdown:
		if float64(m.tick)*dt >= CountdownDuration.Seconds() {
			m.phase = PhaseActive
			m.activeSince = m.tick
			m.broadcastEvent(Event{Kind: EventCountdown})
		}
		return
	case PhaseActive:
		elapsed := float64(m.tick-m.activeSince) * dt
		if elapsed >= ActiveDuration.Seconds() {
			m.phase = PhaseShrink
			m.broadcastEvent(Event{Kind: EventShrink})
		}
	case PhaseShrink:
		elapsed := float64(m.tick-m.activeSince) * dt
		p := (elapsed - ActiveDuration.Seconds()) / ShrinkDuration.Seconds()
		if p < 0 {
			p = 0
		}
		m.fogRadius = m.MapRadius * (1 - ShrinkFogFraction*p)
		if elapsed >= HardCap.Seconds() {
			m.phase = PhaseSettlement
			m.broadcastEvent(Event{Kind: EventEnd})
			m.finalize()
			return
		}
	}

	for id, in := range m.latest {
		if c, ok := m.cells[id]; ok {
			c.Axes = in.Axes
			c.Boost = in.Boost
		}
	}

	now := float64(m.tick) * dt
	ids := sortedCellIDs(m.cells)
	for _, id := range ids {
		c := m.cells[id]
		if c.IsDead {
			continue
		}
		physics.Advance(c, now, dt)
		physics.ClampToMap(c, m.MapRadius)
		if m.phase == PhaseShrink {
			physics.ApplyFog(c, m.fogRadius, dt)
		}
	}

	m.resolveCollisions(ids)
	m.resolvePelletConsumption(ids)
	m.maybeRespawnPellet()

	m.emitSnapshot()
}

// resolveCollisions iterates ordered pairs by id ascending, at most one kill
// per pair per tick.
func (m *Match) resolveCollisions(ids []int) {
	for i := 0; i < len(ids); i++ {
		a := m.cells[ids[i]]
		if a.IsDead {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			b := m.cells[ids[j]]
			if b.IsDead {
				continue
			}
			if physics.TryEat(a, b, m.GrowthCap) {
				m.broadcastEvent(Event{Kind: EventKill, Data: KillData{Killer: a.ID, Victim: b.ID}})
				continue
			}
			if physics.TryEat(b, a, m.GrowthCap) {
				m.broadcastEvent(Event{Kind: EventKill, Data: KillData{Killer: b.ID, Victim: a.ID}})
				break // a is dead now, no more pairs for it this tick
			}
		}
	}
}

func (m *Match) resolvePelletConsumption(ids []int) {
	pelletIDs := make([]int, 0, len(m.pellets))
	for id, p := range m.pellets {
		if p.Consumed {
			continue
		}
		pelletIDs = append(pelletIDs, id)
	}
	sort.Ints(pelletIDs)

	for _, cid := range ids {
		c := m.cells[cid]
		if c.IsDead {
			continue
		}
		for _, pid := range pelletIDs {
			p := m.pellets[pid]
			if p.Consumed {
				continue
			}
			physics.TryConsume(c, p, m.GrowthCap)
		}
	}

	for id, p := range m.pellets {
		if p.Consumed {
			delete(m.pellets, id)
		}
	}
}

// maybeRespawnPellet draws the per-tick Bernoulli gate from the "shrink"
// stream while in the shrink phase (a tapered, independently-seeded draw)
// and from the "pellets" stream while active; the new pellet's position
// always comes from the "pellets" stream per the RNG tag partition.
func (m *Match) maybeRespawnPellet() {
	switch m.phase {
	case PhaseActive:
		if m.pelletStream.Next() < PelletSpawnProb {
			m.spawnPellet(m.MapRadius)
		}
	case PhaseShrink:
		if m.shrinkStream.Next() < PelletSpawnProb*ShrinkSpawnHalving {
			m.spawnPellet(m.MapRadius)
		}
	}
}

func (m *Match) emitSnapshot() {
	snap := Snapshot{Tick: m.tick, FogRadius: m.fogRadius}
	for _, id := range sortedCellIDs(m.cells) {
		c := m.cells[id]
		snap.Cells = append(snap.Cells, CellSnapshot{
			ID: c.ID, X: c.Pos.X, Y: c.Pos.Y, Radius: physics.Radius(c.Mass),
			Mass: c.Mass, Team: c.Team, IsDead: c.IsDead,
		})
	}
	pelletIDs := make([]int, 0, len(m.pellets))
	for id := range m.pellets {
		pelletIDs = append(pelletIDs, id)
	}
	sort.Ints(pelletIDs)
	for _, id := range pelletIDs {
		p := m.pellets[id]
		snap.Pellets = append(snap.Pellets, PelletSnapshot{ID: p.ID, X: p.Pos.X, Y: p.Pos.Y, Radius: p.Radius()})
	}

	raw, _ := json.Marshal(snap)
	m.audit.Append(raw)
	compressed := compressLZ4(raw)
	m.broadcastSnapshot(compressed)
}

func compressLZ4(src []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst)
	if err != nil || n == 0 {
		return src // fall back to the raw payload rather than drop the snapshot
	}
	return dst[:n]
}

func sortedCellIDs(cells map[int]*physics.Cell) []int {
	ids := make([]int, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// finalize computes the placement vector: final_mass descending, ties
// broken by account id ascending.
func (m *Match) finalize() {
	placements := make([]models.Placement, 0, len(m.cells))
	for id, c := range m.cells {
		placements = append(placements, models.Placement{
			MatchID:   m.ID,
			AccountID: m.memberOf[id],
			Team:      c.Team,
			FinalMass: c.Mass,
			MaxMass:   c.MaxMassSeen,
		})
	}

	sort.Slice(placements, func(i, j int) bool {
		if placements[i].FinalMass != placements[j].FinalMass {
			return placements[i].FinalMass > placements[j].FinalMass
		}
		return placements[i].AccountID < placements[j].AccountID
	})
	for i := range placements {
		placements[i].Placement = i + 1
	}

	m.outcome = &Outcome{Placements: placements}
}

// Phase returns the match's current phase (for tests and introspection).
func (m *Match) Phase() Phase { return m.phase }

// Tick returns the current tick counter.
func (m *Match) Tick() int64 { return m.tick }

// Outcome returns the finalized outcome, or nil if the match has not
// reached settlement.
func (m *Match) Outcome() *Outcome { return m.outcome }

// AuditHead returns the tamper-evidence hash chain's current head.
func (m *Match) AuditHead() string { return m.audit.Head() }
