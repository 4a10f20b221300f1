package evolution

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/racer/genome"
)

var (
	// ErrUnscored is returned when aggregating a population that is not fully scored.
	ErrUnscored = errors.New("population is not fully scored")
	// ErrEmptyPopulation is returned when evolving a population with no members.
	ErrEmptyPopulation = errors.New("population is empty")
	// ErrScoreCount is returned when score or stat arrays do not match the population size.
	ErrScoreCount = errors.New("score count does not match population size")
)

// Population is one generation: ordered genome references plus parallel
// score and stat arrays that are either both nil or both fully populated.
type Population struct {
	ID      string
	Track   string
	Epoch   int
	Genomes []genome.ID

	scores []float64
	stats  []Stats
}

// NewPopulation creates an unscored population.
func NewPopulation(track string, epoch int, ids []genome.ID) *Population {
	return &Population{
		ID:      uuid.NewString(),
		Track:   track,
		Epoch:   epoch,
		Genomes: ids,
	}
}

// Len returns the member count.
func (p *Population) Len() int {
	return len(p.Genomes)
}

// Scored reports whether every member has a score.
func (p *Population) Scored() bool {
	return p.scores != nil
}

// SetScores assigns all scores and stats at once. On error nothing changes.
func (p *Population) SetScores(scores []float64, stats []Stats) error {
	if len(scores) != len(p.Genomes) || len(stats) != len(p.Genomes) {
		return fmt.Errorf("%w: %d members, %d scores, %d stats", ErrScoreCount, len(p.Genomes), len(scores), len(stats))
	}
	for i, s := range scores {
		if math.IsNaN(s) {
			return fmt.Errorf("score %d is NaN", i)
		}
	}
	p.scores = append([]float64(nil), scores...)
	p.stats = append([]Stats(nil), stats...)
	return nil
}

// ClearScores drops all scores, e.g. before re-racing on another track.
func (p *Population) ClearScores() {
	p.scores = nil
	p.stats = nil
}

// Score returns member i's score, or -Inf when unscored.
func (p *Population) Score(i int) float64 {
	if p.scores == nil {
		return math.Inf(-1)
	}
	return p.scores[i]
}

// Stats returns member i's stats. ok is false when unscored.
func (p *Population) Stats(i int) (Stats, bool) {
	if p.stats == nil {
		return Stats{}, false
	}
	return p.stats[i], true
}

// Ranked returns member indices by score descending, ties by index.
func (p *Population) Ranked() []int {
	idx := make([]int, len(p.Genomes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p.Score(idx[a]) > p.Score(idx[b])
	})
	return idx
}

// Summary aggregates a scored population.
type Summary struct {
	Epoch          int       `json:"epoch" msgpack:"epoch"`
	Track          string    `json:"track" msgpack:"track"`
	Mean           float64   `json:"mean" msgpack:"mean"`
	Median         float64   `json:"median" msgpack:"median"`
	P25            float64   `json:"p25" msgpack:"p25"`
	P75            float64   `json:"p75" msgpack:"p75"`
	Min            float64   `json:"min" msgpack:"min"`
	Max            float64   `json:"max" msgpack:"max"`
	CompletionRate float64   `json:"completion_rate" msgpack:"completion_rate"`
	CrashRate      float64   `json:"crash_rate" msgpack:"crash_rate"`
	AvgSpeed       float64   `json:"avg_speed" msgpack:"avg_speed"`
	Best           genome.ID `json:"best" msgpack:"best"`
}

// Summary computes aggregate statistics. Fails with ErrUnscored unless every member is scored.
func (p *Population) Summary() (Summary, error) {
	if !p.Scored() {
		return Summary{}, fmt.Errorf("summarizing population %s: %w", p.ID, ErrUnscored)
	}
	if len(p.scores) == 0 {
		return Summary{}, fmt.Errorf("summarizing population %s: %w", p.ID, ErrEmptyPopulation)
	}

	sorted := append([]float64(nil), p.scores...)
	sort.Float64s(sorted)

	var finished, crashed int
	speeds := make([]float64, len(p.stats))
	for i, s := range p.stats {
		if s.Finished {
			finished++
		}
		if s.Crashed {
			crashed++
		}
		speeds[i] = s.AvgSpeed
	}
	n := float64(len(p.scores))

	return Summary{
		Epoch:          p.Epoch,
		Track:          p.Track,
		Mean:           stat.Mean(sorted, nil),
		Median:         stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P25:            stat.Quantile(0.25, stat.Empirical, sorted, nil),
		P75:            stat.Quantile(0.75, stat.Empirical, sorted, nil),
		Min:            sorted[0],
		Max:            sorted[len(sorted)-1],
		CompletionRate: float64(finished) / n,
		CrashRate:      float64(crashed) / n,
		AvgSpeed:       stat.Mean(speeds, nil),
		Best:           p.Genomes[p.Ranked()[0]],
	}, nil
}

// LogValue implements slog.LogValuer for structured logging.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("epoch", s.Epoch),
		slog.String("track", s.Track),
		slog.Float64("mean", s.Mean),
		slog.Float64("median", s.Median),
		slog.Float64("p25", s.P25),
		slog.Float64("p75", s.P75),
		slog.Float64("min", s.Min),
		slog.Float64("best_score", s.Max),
		slog.Float64("completion_rate", s.CompletionRate),
		slog.Float64("crash_rate", s.CrashRate),
		slog.Float64("avg_speed", s.AvgSpeed),
		slog.Uint64("best", uint64(s.Best)),
	)
}
