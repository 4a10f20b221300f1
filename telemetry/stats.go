package telemetry

import (
	"log/slog"
	"time"

	"github.com/pthm-cable/racer/evolution"
)

// GenerationRecord is one row of generations.csv.
type GenerationRecord struct {
	Evolution string `csv:"-"`
	Epoch     int    `csv:"epoch"`
	Track     string `csv:"track"`
	Strategy  string `csv:"strategy"`
	Mode      string `csv:"mode"`

	// Score distribution
	Mean   float64 `csv:"mean"`
	Median float64 `csv:"median"`
	P25    float64 `csv:"p25"`
	P75    float64 `csv:"p75"`
	Min    float64 `csv:"min"`
	Max    float64 `csv:"max"`

	CompletionRate float64 `csv:"completion_rate"`
	CrashRate      float64 `csv:"crash_rate"`
	AvgSpeed       float64 `csv:"avg_speed"`
	Best           uint64  `csv:"best_genome"`

	// Provenance of the next population
	Elites     int `csv:"elites"`
	Injected   int `csv:"hof_injected"`
	Offspring  int `csv:"offspring"`
	RandomBorn int `csv:"random"`

	HallOfFameSize int `csv:"hof_size"`
	Generalists    int `csv:"generalists"`

	DurationMS int64 `csv:"duration_ms"`
}

// NewGenerationRecord flattens a generation summary. lineage may be nil when
// the generation did not evolve (validation rounds).
func NewGenerationRecord(sum evolution.Summary, strategy, mode string, lineage *evolution.Genealogy, hof *evolution.HallOfFame, took time.Duration) GenerationRecord {
	r := GenerationRecord{
		Epoch:          sum.Epoch,
		Track:          sum.Track,
		Strategy:       strategy,
		Mode:           mode,
		Mean:           sum.Mean,
		Median:         sum.Median,
		P25:            sum.P25,
		P75:            sum.P75,
		Min:            sum.Min,
		Max:            sum.Max,
		CompletionRate: sum.CompletionRate,
		CrashRate:      sum.CrashRate,
		AvgSpeed:       sum.AvgSpeed,
		Best:           uint64(sum.Best),
		DurationMS:     took.Milliseconds(),
	}
	if lineage != nil {
		counts := lineage.Counts()
		r.Elites = counts[evolution.ProvenanceElite]
		r.Injected = counts[evolution.ProvenanceHallOfFame]
		r.Offspring = counts[evolution.ProvenanceOffspring]
		r.RandomBorn = counts[evolution.ProvenanceRandom]
	}
	if hof != nil {
		for _, e := range hof.Pooled() {
			r.HallOfFameSize++
			if e.Generalist {
				r.Generalists++
			}
		}
	}
	return r
}

// LogValue implements slog.LogValuer for structured logging.
func (r GenerationRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("epoch", r.Epoch),
		slog.String("track", r.Track),
		slog.String("strategy", r.Strategy),
		slog.String("mode", r.Mode),
		slog.Float64("mean", r.Mean),
		slog.Float64("median", r.Median),
		slog.Float64("best_score", r.Max),
		slog.Float64("completion_rate", r.CompletionRate),
		slog.Float64("crash_rate", r.CrashRate),
		slog.Float64("avg_speed", r.AvgSpeed),
		slog.Uint64("best_genome", r.Best),
		slog.Int("hof_size", r.HallOfFameSize),
		slog.Int("generalists", r.Generalists),
		slog.Int64("duration_ms", r.DurationMS),
	)
}
