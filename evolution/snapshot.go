package evolution

import (
	"fmt"

	"github.com/pthm-cable/racer/genome"
)

// MemberSnapshot is one serialized population member. Score and Stats are
// nil for an unscored population.
type MemberSnapshot struct {
	Score  *float64         `json:"score" msgpack:"score"`
	Stats  *Stats           `json:"stats,omitempty" msgpack:"stats"`
	Genome genome.Quantized `json:"genome" msgpack:"genome"`
}

// GenerationSnapshot is the transport-agnostic form of a Population.
type GenerationSnapshot struct {
	ID      string           `json:"id" msgpack:"id"`
	Track   string           `json:"track" msgpack:"track"`
	Epoch   int              `json:"epoch" msgpack:"epoch"`
	Members []MemberSnapshot `json:"members" msgpack:"members"`
	Summary *Summary         `json:"summary,omitempty" msgpack:"summary"`
}

// Snapshot serializes the population with quantized genomes from arena.
func (p *Population) Snapshot(arena *genome.Arena) (GenerationSnapshot, error) {
	s := GenerationSnapshot{
		ID:      p.ID,
		Track:   p.Track,
		Epoch:   p.Epoch,
		Members: make([]MemberSnapshot, len(p.Genomes)),
	}
	for i, id := range p.Genomes {
		g := arena.Get(id)
		if g == nil {
			return GenerationSnapshot{}, fmt.Errorf("snapshot %s: genome %d not in arena", p.ID, id)
		}
		s.Members[i].Genome = genome.Quantize(g)
		if p.Scored() {
			score, stats := p.scores[i], p.stats[i]
			s.Members[i].Score = &score
			s.Members[i].Stats = &stats
		}
	}
	if p.Scored() {
		sum, err := p.Summary()
		if err != nil {
			return GenerationSnapshot{}, err
		}
		s.Summary = &sum
	}
	return s, nil
}

// RestorePopulation rebuilds a population from s, registering its genomes
// in arena under their original ids. Scores are restored only when every
// member carries one.
func RestorePopulation(s GenerationSnapshot, arena *genome.Arena) (*Population, error) {
	p := &Population{ID: s.ID, Track: s.Track, Epoch: s.Epoch, Genomes: make([]genome.ID, len(s.Members))}

	scored := len(s.Members) > 0
	scores := make([]float64, len(s.Members))
	stats := make([]Stats, len(s.Members))
	for i, m := range s.Members {
		g, err := restoreGenome(m.Genome, arena)
		if err != nil {
			return nil, fmt.Errorf("restore %s member %d: %w", s.ID, i, err)
		}
		p.Genomes[i] = g.ID
		if m.Score == nil || m.Stats == nil {
			scored = false
			continue
		}
		scores[i], stats[i] = *m.Score, *m.Stats
	}
	if scored {
		if err := p.SetScores(scores, stats); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// restoreGenome reuses a live genome with the same id, otherwise decodes q.
func restoreGenome(q genome.Quantized, arena *genome.Arena) (*genome.Genome, error) {
	if g := arena.Get(q.ID); g != nil {
		return g, nil
	}
	g, err := genome.Dequantize(q)
	if err != nil {
		return nil, err
	}
	if err := arena.Put(g); err != nil {
		return nil, err
	}
	return g, nil
}

// HallEntrySnapshot is one serialized archive entry.
type HallEntrySnapshot struct {
	Genome      genome.Quantized `json:"genome" msgpack:"genome"`
	HomeTrack   string           `json:"home_track" msgpack:"home_track"`
	HomeScore   float64          `json:"home_score" msgpack:"home_score"`
	Evaluations []Evaluation     `json:"evaluations" msgpack:"evaluations"`
	GlobalScore float64          `json:"global_score" msgpack:"global_score"`
	Generalist  bool             `json:"generalist" msgpack:"generalist"`
}

// HallOfFameSnapshot is the transport-agnostic form of a HallOfFame.
type HallOfFameSnapshot struct {
	Entries []HallEntrySnapshot `json:"entries" msgpack:"entries"`
}

// Snapshot serializes every entry, tracks in name order, best first.
func (h *HallOfFame) Snapshot(arena *genome.Arena) (HallOfFameSnapshot, error) {
	var s HallOfFameSnapshot
	for _, name := range h.Tracks() {
		for _, e := range h.tracks[name] {
			g := arena.Get(e.Genome)
			if g == nil {
				return HallOfFameSnapshot{}, fmt.Errorf("hall of fame snapshot: genome %d not in arena", e.Genome)
			}
			s.Entries = append(s.Entries, HallEntrySnapshot{
				Genome:      genome.Quantize(g),
				HomeTrack:   e.HomeTrack,
				HomeScore:   e.HomeScore,
				Evaluations: append([]Evaluation(nil), e.Evaluations...),
				GlobalScore: e.GlobalScore,
				Generalist:  e.Generalist,
			})
		}
	}
	return s, nil
}

// Restore replaces the archive contents with s, registering genomes in arena.
// Every entry is decoded before the arena is touched, so on error both the
// archive and the arena are left unchanged.
func (h *HallOfFame) Restore(s HallOfFameSnapshot, arena *genome.Arena) error {
	decoded := make(map[genome.ID]*genome.Genome)
	var fresh []*genome.Genome
	genomes := make([]*genome.Genome, len(s.Entries))
	for i, es := range s.Entries {
		g := arena.Get(es.Genome.ID)
		if g == nil && es.Genome.ID != 0 {
			g = decoded[es.Genome.ID]
		}
		if g == nil {
			var err error
			if g, err = genome.Dequantize(es.Genome); err != nil {
				return fmt.Errorf("restore hall of fame entry %d: %w", i, err)
			}
			if g.Len() != arena.GenomeLength() {
				return fmt.Errorf("restore hall of fame entry %d: %w: got %d genes, arena holds %d",
					i, genome.ErrLength, g.Len(), arena.GenomeLength())
			}
			if es.Genome.ID != 0 {
				decoded[es.Genome.ID] = g
			}
			fresh = append(fresh, g)
		}
		genomes[i] = g
	}
	for _, g := range fresh {
		if err := arena.Put(g); err != nil {
			return fmt.Errorf("restore hall of fame: %w", err)
		}
	}

	tracks := make(map[string][]*HallEntry)
	for i, es := range s.Entries {
		g := genomes[i]
		e := &HallEntry{
			Genome:      g.ID,
			HomeTrack:   es.HomeTrack,
			HomeScore:   es.HomeScore,
			Evaluations: append([]Evaluation(nil), es.Evaluations...),
		}
		h.refresh(e)
		tracks[es.HomeTrack] = append(tracks[es.HomeTrack], e)
	}

	h.tracks = tracks
	for name := range h.tracks {
		h.sortTrack(name)
	}
	return nil
}
