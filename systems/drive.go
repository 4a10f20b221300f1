// Package systems provides the ECS systems that advance a race.
package systems

import (
	"math"

	"github.com/pthm-cable/racer/components"
	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/track"
	"github.com/pthm-cable/racer/vehicle"
)

// Sensors configures radar beams and staleness detection.
type Sensors struct {
	Angles     []float64 // Radians relative to heading
	Range      float64
	StaleSpeed float64
	StaleTicks int // 0 disables the staleness check
}

// SensorsFromConfig converts the sensors config section.
func SensorsFromConfig(cfg *config.Config) Sensors {
	return Sensors{
		Angles:     cfg.Derived.RadarAngles,
		Range:      cfg.Sensors.RadarRange,
		StaleSpeed: cfg.Sensors.StaleSpeed,
		StaleTicks: cfg.Sensors.StaleTicks,
	}
}

// NumInputs returns the network input width for these sensors.
func (s Sensors) NumInputs() int {
	return len(s.Angles) + config.NumSelfInputs
}

// Drive is the closed-loop per-vehicle tick: radar, network, dynamics,
// then wall collision and checkpoint progress. Track geometry is only read.
type Drive struct {
	Track   *track.Track
	Params  vehicle.Params
	Sensors Sensors
	DT      float64
}

// Reset places a vehicle at the track start with fresh progress.
func (d *Drive) Reset(ch *components.Chassis, r *components.Radar, p *components.Pilot, pr *components.Progress) {
	start := d.Track.Start
	ch.State = vehicle.State{X: start.Position.X, Y: start.Position.Y, Heading: start.Heading}

	if len(r.Readings) != len(d.Sensors.Angles) {
		r.Readings = make([]float64, len(d.Sensors.Angles))
	}
	for i := range r.Readings {
		r.Readings[i] = d.Sensors.Range
	}
	if r.Scratch == nil {
		r.Scratch = track.NewScratch(d.Track.Walls.Len())
	}

	if len(p.Inputs) != d.Sensors.NumInputs() {
		p.Inputs = make([]float64, d.Sensors.NumInputs())
	}
	p.Prev = vehicle.Controls{}

	*pr = components.Progress{
		Furthest: -1,
		Stale:    d.Sensors.StaleTicks,
	}
}

// Tick advances one vehicle by one timestep.
func (d *Drive) Tick(ch *components.Chassis, r *components.Radar, p *components.Pilot, pr *components.Progress) {
	switch pr.Status {
	case components.StatusCrashed:
		return
	case components.StatusFinished:
		// Coast to a stop past the line
		vehicle.Step(&ch.State, d.Params, vehicle.Controls{Brake: 1}, d.DT)
		return
	}

	d.sense(ch, r, p)
	out := p.Net.Forward(p.Inputs)
	c := controls(out)
	p.Prev = c

	x0, y0 := ch.State.X, ch.State.Y
	vehicle.Step(&ch.State, d.Params, c, d.DT)

	speed := ch.State.Speed()
	pr.Ticks++
	pr.SpeedSum += speed
	pr.Distance += math.Hypot(ch.State.X-x0, ch.State.Y-y0)

	center := ch.Position()
	length, width, heading := d.Params.Length, d.Params.Width, ch.State.Heading
	if _, hit := d.Track.Walls.IsBoxColliding(center, length, width, heading, r.Scratch); hit {
		pr.Status = components.StatusCrashed
		return
	}

	pr.Furthest = d.Track.PassedCheckpoint(center, length, width, heading, pr.Furthest)
	if d.Track.Finished(pr.Furthest) {
		pr.Status = components.StatusFinished
		pr.FinishTick = pr.Ticks
		return
	}

	if d.Sensors.StaleTicks > 0 {
		if speed < d.Sensors.StaleSpeed {
			pr.Stale--
			if pr.Stale <= 0 {
				pr.Status = components.StatusCrashed
			}
		} else {
			pr.Stale = d.Sensors.StaleTicks
		}
	}
}

// sense casts the radar and fills the network input vector.
func (d *Drive) sense(ch *components.Chassis, r *components.Radar, p *components.Pilot) {
	origin := ch.Position()
	rng := d.Sensors.Range
	for i, a := range d.Sensors.Angles {
		dist, ok := d.Track.Walls.RayIntersectionsMinLength(origin, ch.State.Heading+a, rng, r.Scratch)
		if !ok {
			dist = rng
		}
		r.Readings[i] = dist
		p.Inputs[i] = dist / rng
	}

	n := len(d.Sensors.Angles)
	p.Inputs[n] = ch.State.Speed() / d.Params.TopSpeed
	p.Inputs[n+1] = p.Prev.Steer
	p.Inputs[n+2] = p.Prev.Throttle - p.Prev.Brake
	p.Inputs[n+3] = ch.State.YawRate
	p.Inputs[n+4] = ch.State.SlipRatio()
}

// controls maps network outputs to driver inputs: output 0 steers,
// output 1 is throttle when positive and brake otherwise.
func controls(out []float64) vehicle.Controls {
	c := vehicle.Controls{Steer: clamp(out[0], -1, 1)}
	if out[1] > 0 {
		c.Throttle = math.Min(out[1], 1)
	} else {
		c.Brake = math.Min(-out[1], 1)
	}
	return c
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
