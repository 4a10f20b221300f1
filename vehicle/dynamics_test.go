package vehicle

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pthm-cable/racer/config"
)

func init() {
	config.MustInit("")
}

func params() Params {
	return ParamsFromConfig(config.Cfg())
}

func run(s *State, c Controls, seconds float64) {
	dt := config.Cfg().Simulation.DT
	for t := 0.0; t < seconds; t += dt {
		Step(s, params(), c, dt)
	}
}

func TestFrictionCircleBound(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		fx := (rng.Float64() - 0.5) * 1e5
		fy := (rng.Float64() - 0.5) * 1e5
		fmax := rng.Float64() * 2e4
		gx, gy := FrictionCircle(fx, fy, fmax)
		if math.Hypot(gx, gy) > fmax+1e-9 {
			t.Fatalf("hypot(%v, %v) = %v > %v", gx, gy, math.Hypot(gx, gy), fmax)
		}
		if math.Hypot(fx, fy) <= fmax && (gx != fx || gy != fy) {
			t.Fatalf("force inside circle was changed")
		}
	}
	if gx, gy := FrictionCircle(10, 10, 0); gx != 0 || gy != 0 {
		t.Errorf("zero budget returned (%v, %v)", gx, gy)
	}
}

func TestStraightLineAcceleration(t *testing.T) {
	s := &State{}
	run(s, Controls{Throttle: 1}, 3)

	if s.VX < 5 {
		t.Errorf("vx after 3s full throttle = %v, want > 5", s.VX)
	}
	if math.Abs(s.Y) > 1e-9 || math.Abs(s.Heading) > 1e-9 {
		t.Errorf("drifted off line: y=%v heading=%v", s.Y, s.Heading)
	}
	if s.X <= 0 {
		t.Errorf("x = %v, want forward motion", s.X)
	}
}

func TestNoReverse(t *testing.T) {
	s := &State{}
	run(s, Controls{Brake: 1}, 1)
	if s.VX != 0 || s.X != 0 {
		t.Errorf("braking at rest moved the car: vx=%v x=%v", s.VX, s.X)
	}

	s = &State{VX: 5}
	run(s, Controls{Brake: 1}, 3)
	if s.VX < 0 {
		t.Errorf("vx = %v after braking, want >= 0", s.VX)
	}
	if s.VX > 0.01 {
		t.Errorf("vx = %v after 3s full brake from 5 m/s, want stopped", s.VX)
	}
}

func TestNoTurningInPlace(t *testing.T) {
	s := &State{}
	run(s, Controls{Steer: 1}, 2)
	if s.Heading != 0 || s.YawRate != 0 {
		t.Errorf("stationary car turned: heading=%v yaw=%v", s.Heading, s.YawRate)
	}
	if math.Abs(s.Steer-params().MaxSteer) > 1e-9 {
		t.Errorf("wheel angle = %v, want %v", s.Steer, params().MaxSteer)
	}
}

func TestSteeringRateBounded(t *testing.T) {
	p := params()
	dt := config.Cfg().Simulation.DT
	s := &State{VX: 10}
	Step(s, p, Controls{Steer: 1, Throttle: 0.2}, dt)
	if s.Steer > p.SteerRate*dt+1e-12 {
		t.Errorf("steer moved %v in one tick, limit %v", s.Steer, p.SteerRate*dt)
	}
}

func TestSteerLeftTurnsCounterclockwise(t *testing.T) {
	tests := []struct {
		name  string
		steer float64
		sign  float64
	}{
		{"left", 0.5, 1},
		{"right", -0.5, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{VX: 12}
			run(s, Controls{Steer: tt.steer, Throttle: 0.3}, 1)
			if s.Heading*tt.sign <= 0 {
				t.Errorf("heading = %v, want sign %v", s.Heading, tt.sign)
			}
			if math.IsNaN(s.X) || math.IsNaN(s.VY) {
				t.Fatal("state went NaN")
			}
		})
	}
}

func TestTopSpeedBounded(t *testing.T) {
	s := &State{}
	run(s, Controls{Throttle: 1}, 60)
	// Drag balances engine power well below 100 m/s.
	if s.VX > 100 || s.VX < 20 {
		t.Errorf("terminal speed = %v", s.VX)
	}
}

func TestSlipRatioClamped(t *testing.T) {
	s := &State{VX: 0, VY: 5}
	if r := s.SlipRatio(); r != 1 {
		t.Errorf("slip ratio = %v, want 1", r)
	}
	s = &State{VX: 20, VY: -2}
	if r := s.SlipRatio(); math.Abs(r+0.1) > 1e-12 {
		t.Errorf("slip ratio = %v, want -0.1", r)
	}
}

func TestSmoothstep(t *testing.T) {
	tests := []struct {
		x, want float64
	}{
		{0, 0}, {0.5, 0}, {3, 1}, {10, 1}, {1.75, 0.5},
	}
	for _, tt := range tests {
		if got := smoothstep(0.5, 3, tt.x); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("smoothstep(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func BenchmarkStep(b *testing.B) {
	p := params()
	s := &State{VX: 15}
	c := Controls{Steer: 0.3, Throttle: 0.6}
	dt := config.Cfg().Simulation.DT
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Step(s, p, c, dt)
	}
}
