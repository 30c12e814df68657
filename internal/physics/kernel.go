// Package physics implements the pure circle-motion and eat/fog rules the
// simulation advances every tick. No I/O, no wall-clock reads — every
// function here takes its Δt as a parameter so it stays trivially testable
// and replayable.
package physics

import "math"

// Canonical constants. Any conforming implementation MUST use these values.
const (
	TickRate = 30 // Hz

	MassToRadiusK = 1.0 // r = k·√m

	MaxSpeedV0 = 5.0  // V₀ in v_max(m) = V₀/√(m/m₀)
	MaxSpeedM0 = 10.0 // m₀ in v_max(m) = V₀/√(m/m₀)

	AccelPerAxisUnit = 2.0 // per axis-unit per second

	FrictionPerTick = 0.9 // velocity multiplier per tick

	BoostCooldownMillis = 6000
	BoostMultiplier     = 2.0

	EatRadiusRatio = 1.15 // eater radius must exceed target radius × this, strictly

	PelletMass = 1.0

	FogDamagePerSec = 5.0 // mass/sec outside fog radius

	BoundaryVelocityDamping = -0.5
)

// DefaultDt is 1/TickRate seconds.
const DefaultDt = 1.0 / float64(TickRate)

// GrowthCap returns the hard mass ceiling for a cell whose match buy-in was
// buyInMinor minor units: buy_in_cents × 5.
func GrowthCap(buyInMinor int64) float64 {
	return float64(buyInMinor) * 5
}

// Vec2 is a 2D vector.
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }

// Cell is the mutable runtime state physics operates on.
type Cell struct {
	ID          int
	Team        int
	Pos         Vec2
	Vel         Vec2
	Axes        Vec2 // input axes, must have length <= 1
	Boost       bool
	LastBoostAt float64 // seconds since match start, -inf-ish sentinel if never
	Mass        float64
	IsDead      bool
	Kills       int
	MaxMassSeen float64
}

// noBoostYet is the LastBoostAt sentinel for a cell that has never boosted.
const noBoostYet = -1e18

// NewCell constructs a live cell with zero velocity and a fresh boost timer.
func NewCell(id, team int, pos Vec2, mass float64) *Cell {
	return &Cell{ID: id, Team: team, Pos: pos, Mass: mass, MaxMassSeen: mass, LastBoostAt: noBoostYet}
}

// Radius derives a cell's radius from its current mass: r = k·√m.
func Radius(mass float64) float64 {
	if mass <= 0 {
		return 0
	}
	return MassToRadiusK * math.Sqrt(mass)
}

// MaxSpeed returns v_max(m) = V₀/√(m/m₀).
func MaxSpeed(mass float64) float64 {
	if mass <= 0 {
		return MaxSpeedV0
	}
	return MaxSpeedV0 / math.Sqrt(mass/MaxSpeedM0)
}

// Pellet is a static consumable.
type Pellet struct {
	ID       int
	Pos      Vec2
	Consumed bool
}

func (p Pellet) Radius() float64 { return Radius(PelletMass) }

// Advance integrates one cell's motion over Δt: apply boosted acceleration
// along its (normalized) input axes, clamp to the current max speed while
// there is input, apply friction, then move. With zero input axes the
// velocity decays under friction only.
func Advance(c *Cell, nowSec, dt float64) {
	if c.IsDead {
		return
	}

	axes := c.Axes
	if l := axes.Len(); l > 1 {
		axes = axes.Scale(1 / l) // normalize oversized input defensively
	}

	accel := AccelPerAxisUnit
	if c.Boost {
		eligible := c.LastBoostAt == noBoostYet || (nowSec-c.LastBoostAt)*1000 >= BoostCooldownMillis
		if eligible {
			accel *= BoostMultiplier
			c.LastBoostAt = nowSec
		}
		c.Boost = false // boost press is consumed whether or not cooldown allowed it
	}

	c.Vel = c.Vel.Add(axes.Scale(accel * dt))

	if axes.Len() > 0 {
		maxSpeed := MaxSpeed(c.Mass)
		if speed := c.Vel.Len(); speed > maxSpeed && speed > 0 {
			c.Vel = c.Vel.Scale(maxSpeed / speed)
		}
	}

	c.Vel = c.Vel.Scale(FrictionPerTick)
	c.Pos = c.Pos.Add(c.Vel.Scale(dt))
}

// ClampToMap reflects a cell that has crossed the circular map boundary back
// onto it, damping its velocity.
func ClampToMap(c *Cell, mapRadius float64) {
	dist := c.Pos.Len()
	if dist <= mapRadius || dist == 0 {
		return
	}
	scale := mapRadius / dist
	c.Pos = c.Pos.Scale(scale)
	c.Vel = c.Vel.Scale(BoundaryVelocityDamping)
}

// ApplyFog drains mass from a cell sitting outside the fog radius.
func ApplyFog(c *Cell, fogRadius, dt float64) {
	if c.IsDead {
		return
	}
	if c.Pos.Len() <= fogRadius {
		return
	}
	c.Mass -= FogDamagePerSec * dt
	if c.Mass < 0 {
		c.Mass = 0
	}
}

// TryEat attempts eater-eats-target. Same non-zero team cannot eat each
// other. The eat ratio check is strict: eater radius must be > 1.15× the
// target's, not >=. On success the eater's mass grows (capped at
// growthCap), the target dies with mass 0, and true is returned.
func TryEat(eater, target *Cell, growthCap float64) bool {
	if eater.IsDead || target.IsDead || eater.ID == target.ID {
		return false
	}
	if eater.Team != 0 && eater.Team == target.Team {
		return false
	}
	if Radius(eater.Mass) <= EatRadiusRatio*Radius(target.Mass) {
		return false
	}

	newMass := eater.Mass + target.Mass
	if newMass > growthCap {
		newMass = growthCap
	}
	eater.Mass = newMass
	if eater.Mass > eater.MaxMassSeen {
		eater.MaxMassSeen = eater.Mass
	}
	eater.Kills++

	target.IsDead = true
	target.Mass = 0
	return true
}

// TryConsume lets a live cell eat an unconsumed pellet it overlaps, capped
// at growthCap.
func TryConsume(c *Cell, p *Pellet, growthCap float64) bool {
	if c.IsDead || p.Consumed {
		return false
	}
	dist := Vec2{c.Pos.X - p.Pos.X, c.Pos.Y - p.Pos.Y}.Len()
	if dist > Radius(c.Mass)+p.Radius() {
		return false
	}
	p.Consumed = true
	c.Mass += PelletMass
	if c.Mass > growthCap {
		c.Mass = growthCap
	}
	if c.Mass > c.MaxMassSeen {
		c.MaxMassSeen = c.Mass
	}
	return true
}
