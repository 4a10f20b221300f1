// Package evolution implements the generational genetic algorithm:
// fitness scoring, populations, the evolve step, the cross-track hall
// of fame and per-step genealogy.
package evolution

import (
	"math"

	"github.com/pthm-cable/racer/config"
)

// Outcome is what a race reports about one vehicle once it is terminal or timed out.
type Outcome struct {
	Finished    bool
	Crashed     bool
	GatesPassed int
	Gates       int
	Ticks       int
	Time        float64 // Seconds spent active
	AvgSpeed    float64
	Distance    float64
}

// Stats is the per-member score breakdown.
type Stats struct {
	Finished      bool    `json:"finished" msgpack:"finished" csv:"finished"`
	Crashed       bool    `json:"crashed" msgpack:"crashed" csv:"crashed"`
	Progress      float64 `json:"progress" msgpack:"progress" csv:"progress"`
	AvgSpeed      float64 `json:"avg_speed" msgpack:"avg_speed" csv:"avg_speed"`
	SpeedRatio    float64 `json:"speed_ratio" msgpack:"speed_ratio" csv:"speed_ratio"`
	Time          float64 `json:"time" msgpack:"time" csv:"time"`
	Distance      float64 `json:"distance" msgpack:"distance" csv:"distance"`
	DistanceScore float64 `json:"distance_score" msgpack:"distance_score" csv:"distance_score"`
	SpeedScore    float64 `json:"speed_score" msgpack:"speed_score" csv:"speed_score"`
	FinishScore   float64 `json:"finish_score" msgpack:"finish_score" csv:"finish_score"`
	Penalty       float64 `json:"penalty" msgpack:"penalty" csv:"penalty"`
}

// Score computes a vehicle's fitness: weighted gate progress, the average
// speed ratio (clamped to [0, 1]) and a finish-only speed bonus, minus a
// penalty when the speed ratio exceeds the speeding limit.
// Unfinished vehicles always score below the full track-distance weight,
// so finishing is what carries a score past the finish threshold.
func Score(o Outcome, topSpeed float64, w config.ScoringConfig) (float64, Stats) {
	s := Stats{
		Finished: o.Finished,
		Crashed:  o.Crashed,
		AvgSpeed: o.AvgSpeed,
		Time:     o.Time,
		Distance: o.Distance,
	}
	if o.Gates > 0 {
		s.Progress = math.Min(float64(o.GatesPassed)/float64(o.Gates), 1)
	}
	if topSpeed > 0 {
		s.SpeedRatio = math.Max(0, math.Min(o.AvgSpeed/topSpeed, 1))
	}

	s.DistanceScore = w.TrackDistance * s.Progress
	s.SpeedScore = w.AvgSpeed * s.SpeedRatio
	if o.Finished {
		s.FinishScore = w.AvgSpeedAtFinishLine * s.SpeedRatio
	}
	if s.SpeedRatio > w.SpeedingLimitValue {
		s.Penalty = w.SpeedingPenalty * (s.SpeedRatio - w.SpeedingLimitValue)
	}

	score := s.DistanceScore + s.SpeedScore + s.FinishScore - s.Penalty
	if !o.Finished && w.TrackDistance > 0 && score >= w.TrackDistance {
		score = math.Nextafter(w.TrackDistance, math.Inf(-1))
	}
	return score, s
}
