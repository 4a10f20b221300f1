// Package vehicle implements a bicycle-model vehicle integrator with
// saturating tire forces and per-axle friction-circle limiting.
package vehicle

import (
	"math"

	"github.com/pthm-cable/racer/config"
)

const (
	gravity = 9.81

	// Brake force split front/rear.
	brakeFront = 0.6
	brakeRear  = 0.4

	// Forward speed used in place of zero when dividing by velocity.
	minSlipSpeed  = 0.5
	minPowerSpeed = 1.0

	// Below this speed the low-speed damping applies.
	lowSpeed = 1.0

	// Lateral velocity retained per substep once the vehicle has stopped.
	stopLateralRetain = 0.5

	// Longest integration substep, seconds.
	maxSubstep = 1.0 / 120
)

// Params holds fixed physical constants. Angles are in radians.
type Params struct {
	Mass              float64
	Inertia           float64
	CGToFront         float64
	CGToRear          float64
	Width             float64
	Length            float64
	MaxSteer          float64
	SteerRate         float64
	EnginePower       float64
	MaxDriveForce     float64
	BrakeForce        float64
	RollingResistance float64
	AeroDrag          float64
	CorneringFront    float64
	CorneringRear     float64
	Mu                float64
	SteerSpeedMin     float64
	SteerSpeedMax     float64
	LowSpeedDamping   float64
	TopSpeed          float64
}

// ParamsFromConfig converts the vehicle config section.
func ParamsFromConfig(cfg *config.Config) Params {
	v := cfg.Vehicle
	return Params{
		Mass:              v.Mass,
		Inertia:           v.Inertia,
		CGToFront:         v.CGToFront,
		CGToRear:          v.CGToRear,
		Width:             v.Width,
		Length:            v.Length,
		MaxSteer:          cfg.Derived.MaxSteerRad,
		SteerRate:         cfg.Derived.SteerRateRad,
		EnginePower:       v.EnginePower,
		MaxDriveForce:     v.MaxDriveForce,
		BrakeForce:        v.BrakeForce,
		RollingResistance: v.RollingResistance,
		AeroDrag:          v.AeroDrag,
		CorneringFront:    v.CorneringFront,
		CorneringRear:     v.CorneringRear,
		Mu:                v.Mu,
		SteerSpeedMin:     v.SteerSpeedMin,
		SteerSpeedMax:     v.SteerSpeedMax,
		LowSpeedDamping:   v.LowSpeedDamping,
		TopSpeed:          v.TopSpeed,
	}
}

// Controls are the driver inputs for one tick.
// Steer in [-1, 1] (positive turns left), Throttle and Brake in [0, 1].
type Controls struct {
	Steer    float64
	Throttle float64
	Brake    float64
}

// State is the integrated vehicle state. VX and VY are body-frame
// longitudinal and lateral velocity.
type State struct {
	X       float64
	Y       float64
	Heading float64
	VX      float64
	VY      float64
	YawRate float64
	Steer   float64 // Road-wheel angle, radians

	// Slip diagnostics from the last step
	SlipFront float64
	SlipRear  float64
}

// Speed returns the magnitude of the body velocity.
func (s *State) Speed() float64 {
	return math.Hypot(s.VX, s.VY)
}

// SlipRatio returns lateral over longitudinal velocity, clamped to [-1, 1].
func (s *State) SlipRatio() float64 {
	return clamp(s.VY/math.Max(s.VX, lowSpeed), -1, 1)
}

// FrictionCircle rescales (fx, fy) so its magnitude never exceeds fmax.
func FrictionCircle(fx, fy, fmax float64) (float64, float64) {
	if fmax <= 0 {
		return 0, 0
	}
	m := math.Hypot(fx, fy)
	if m <= fmax {
		return fx, fy
	}
	s := fmax / m
	return fx * s, fy * s
}

// Step advances s by dt under controls c.
func Step(s *State, p Params, c Controls, dt float64) {
	steerIn := clamp(c.Steer, -1, 1)
	throttle := clamp(c.Throttle, 0, 1)
	brake := clamp(c.Brake, 0, 1)

	// Steering moves toward its target at a bounded rate
	maxDelta := p.SteerRate * dt
	s.Steer += clamp(steerIn*p.MaxSteer-s.Steer, -maxDelta, maxDelta)

	n := int(math.Ceil(dt / maxSubstep))
	if n < 1 {
		n = 1
	}
	h := dt / float64(n)
	for i := 0; i < n; i++ {
		integrate(s, p, throttle, brake, h)
	}
}

func integrate(s *State, p Params, throttle, brake, dt float64) {
	// Static axle loads
	wheelbase := p.CGToFront + p.CGToRear
	loadFront := p.Mass * gravity * p.CGToRear / wheelbase
	loadRear := p.Mass * gravity * p.CGToFront / wheelbase
	muFront := p.Mu * loadFront
	muRear := p.Mu * loadRear

	// Longitudinal: rear-wheel drive, power limited at speed
	vx := s.VX
	drive := math.Min(p.EnginePower/math.Max(vx, minPowerSpeed), p.MaxDriveForce) * throttle
	var brakeF, brakeR float64
	if vx > 0 {
		brakeF = p.BrakeForce * brake * brakeFront
		brakeR = p.BrakeForce * brake * brakeRear
	}
	drag := p.RollingResistance*vx + p.AeroDrag*vx*math.Abs(vx)

	// Steering has no effect at standstill
	delta := s.Steer * smoothstep(p.SteerSpeedMin, p.SteerSpeedMax, vx)

	// Slip angles
	vxs := math.Max(vx, minSlipSpeed)
	alphaF := math.Atan2(s.VY+p.CGToFront*s.YawRate, vxs) - delta
	alphaR := math.Atan2(s.VY-p.CGToRear*s.YawRate, vxs)
	s.SlipFront, s.SlipRear = alphaF, alphaR

	// Saturating lateral tire forces
	fyF := -muFront * math.Tanh(p.CorneringFront*alphaF/muFront)
	fyR := -muRear * math.Tanh(p.CorneringRear*alphaR/muRear)

	fxF, fyF := FrictionCircle(-brakeF, fyF, muFront)
	fxR, fyR := FrictionCircle(drive-brakeR, fyR, muRear)

	// Body-frame totals
	cosD, sinD := math.Cos(delta), math.Sin(delta)
	fx := fxR + fxF*cosD - fyF*sinD - drag
	fy := fyR + fyF*cosD + fxF*sinD
	torque := p.CGToFront*(fyF*cosD+fxF*sinD) - p.CGToRear*fyR

	s.VX += (fx/p.Mass + s.VY*s.YawRate) * dt
	s.VY += (fy/p.Mass - vx*s.YawRate) * dt
	s.YawRate += torque / p.Inertia * dt

	// No reverse
	if s.VX <= 0 {
		s.VX = 0
		s.VY *= stopLateralRetain
		s.YawRate *= stopLateralRetain
	}

	if s.Speed() < lowSpeed {
		k := math.Exp(-p.LowSpeedDamping * dt)
		s.VY *= k
		s.YawRate *= k
	}

	s.Heading += s.YawRate * dt
	cosH, sinH := math.Cos(s.Heading), math.Sin(s.Heading)
	s.X += (s.VX*cosH - s.VY*sinH) * dt
	s.Y += (s.VX*sinH + s.VY*cosH) * dt
}

func smoothstep(edge0, edge1, x float64) float64 {
	if edge1 <= edge0 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
