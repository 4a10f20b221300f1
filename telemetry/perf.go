package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for a race tick.
const (
	PhaseDrive  = "drive"
	PhaseStatus = "status"
)

// Phase names for a generation.
const (
	PhaseRace    = "race"
	PhaseScore   = "score"
	PhaseArchive = "archive"
	PhaseEvolve  = "evolve"
	PhasePersist = "persist"
)

// tickPhases and generationPhases fix the order used in logs and CSV rows.
var (
	tickPhases       = []string{PhaseDrive, PhaseStatus}
	generationPhases = []string{PhaseRace, PhaseScore, PhaseArchive, PhaseEvolve, PhasePersist}
)

// PerfSample holds timing data for a single tick.
type PerfSample struct {
	TickDuration time.Duration
	Phases       map[string]time.Duration
}

// PerfCollector tracks timings over a rolling window. The same collector
// type times race ticks and whole generations; a "tick" is whatever unit
// the caller brackets with StartTick and EndTick. Not safe for concurrent use.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	tickStart     time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a new performance collector.
// windowSize: number of ticks to average over.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartTick begins timing a new tick.
func (p *PerfCollector) StartTick() {
	p.tickStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific phase, ending the previous one.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	// End previous phase if any
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndTick finishes timing the current tick and records the sample.
func (p *PerfCollector) EndTick() {
	now := time.Now()
	// End final phase
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		TickDuration: now.Sub(p.tickStart),
		Phases:       p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	// Tick timing
	AvgTickDuration time.Duration
	MinTickDuration time.Duration
	MaxTickDuration time.Duration

	// Phase breakdown (average durations)
	PhaseAvg map[string]time.Duration

	// Phase percentages of total tick time
	PhasePct map[string]float64

	// Throughput
	TicksPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg: make(map[string]time.Duration),
			PhasePct: make(map[string]float64),
		}
	}

	var totalTick time.Duration
	var minTick, maxTick time.Duration
	phaseSum := make(map[string]time.Duration)

	// Iterate over valid samples
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		totalTick += s.TickDuration

		if i == 0 || s.TickDuration < minTick {
			minTick = s.TickDuration
		}
		if s.TickDuration > maxTick {
			maxTick = s.TickDuration
		}

		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avgTick := totalTick / time.Duration(p.sampleCount)

	// Calculate phase averages and percentages
	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avgTick > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avgTick) * 100
		}
	}

	// Calculate throughput
	var ticksPerSec float64
	if avgTick > 0 {
		ticksPerSec = float64(time.Second) / float64(avgTick)
	}

	return PerfStats{
		AvgTickDuration: avgTick,
		MinTickDuration: minTick,
		MaxTickDuration: maxTick,
		PhaseAvg:        phaseAvg,
		PhasePct:        phasePct,
		TicksPerSecond:  ticksPerSec,
	}
}

// LogValue implements slog.LogValuer for structured logging.
// Known phases are listed first in pipeline order.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("min_us", s.MinTickDuration.Microseconds()),
		slog.Int64("max_us", s.MaxTickDuration.Microseconds()),
		slog.Float64("per_sec", s.TicksPerSecond),
	}

	seen := make(map[string]bool, len(s.PhasePct))
	for _, group := range [][]string{tickPhases, generationPhases} {
		for _, phase := range group {
			if pct, ok := s.PhasePct[phase]; ok {
				attrs = append(attrs, slog.Float64(phase+"_pct", pct))
				seen[phase] = true
			}
		}
	}
	for phase, pct := range s.PhasePct {
		if !seen[phase] {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}

	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of generation timings.
type PerfStatsCSV struct {
	Epoch      int     `csv:"epoch"`
	AvgUS      int64   `csv:"avg_us"`
	MaxUS      int64   `csv:"max_us"`
	TicksPerS  float64 `csv:"ticks_per_sec"`
	DrivePct   float64 `csv:"drive_pct"`
	StatusPct  float64 `csv:"status_pct"`
	RacePct    float64 `csv:"race_pct"`
	ScorePct   float64 `csv:"score_pct"`
	ArchivePct float64 `csv:"archive_pct"`
	EvolvePct  float64 `csv:"evolve_pct"`
	PersistPct float64 `csv:"persist_pct"`
}

// ToCSV merges tick stats and generation stats into one flat row.
func ToCSV(epoch int, ticks, generations PerfStats) PerfStatsCSV {
	return PerfStatsCSV{
		Epoch:      epoch,
		AvgUS:      generations.AvgTickDuration.Microseconds(),
		MaxUS:      generations.MaxTickDuration.Microseconds(),
		TicksPerS:  ticks.TicksPerSecond,
		DrivePct:   ticks.PhasePct[PhaseDrive],
		StatusPct:  ticks.PhasePct[PhaseStatus],
		RacePct:    generations.PhasePct[PhaseRace],
		ScorePct:   generations.PhasePct[PhaseScore],
		ArchivePct: generations.PhasePct[PhaseArchive],
		EvolvePct:  generations.PhasePct[PhaseEvolve],
		PersistPct: generations.PhasePct[PhasePersist],
	}
}
