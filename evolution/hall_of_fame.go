package evolution

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/genome"
)

// generalistMinTracks is the evaluation count needed for the generalist flag.
const generalistMinTracks = 3

// globalShrink damps global scores backed by few evaluations: n/(n+globalShrink).
const globalShrink = 3.5

// Evaluation is one genome's best score on one track.
type Evaluation struct {
	Track string  `json:"track" msgpack:"track"`
	Score float64 `json:"score" msgpack:"score"`
}

// HallEntry is one archived genome on its home track.
type HallEntry struct {
	Genome      genome.ID    `json:"genome"`
	HomeTrack   string       `json:"home_track"`
	HomeScore   float64      `json:"home_score"`  // Best score on HomeTrack
	Evaluations []Evaluation `json:"evaluations"` // Sorted by track name
	GlobalScore float64      `json:"global_score"`
	Generalist  bool         `json:"generalist"`
}

// Evaluated reports whether the entry has a score for track.
func (e *HallEntry) Evaluated(track string) bool {
	for _, ev := range e.Evaluations {
		if ev.Track == track {
			return true
		}
	}
	return false
}

func (e *HallEntry) clone() HallEntry {
	c := *e
	c.Evaluations = append([]Evaluation(nil), e.Evaluations...)
	return c
}

// HallOfFame is the cross-track archive of strong genomes. Each track keeps
// its own archive sorted by global score; entries hold genome ids only.
// It is mutated between generations only.
type HallOfFame struct {
	cfg    config.HallOfFameConfig
	tracks map[string][]*HallEntry
}

// NewHallOfFame creates an empty archive.
func NewHallOfFame(cfg config.HallOfFameConfig) *HallOfFame {
	return &HallOfFame{cfg: cfg, tracks: make(map[string][]*HallEntry)}
}

// Config returns the archive settings.
func (h *HallOfFame) Config() config.HallOfFameConfig {
	return h.cfg
}

// Len returns the total entry count over all tracks.
func (h *HallOfFame) Len() int {
	n := 0
	for _, entries := range h.tracks {
		n += len(entries)
	}
	return n
}

// Tracks returns the archived track names, sorted.
func (h *HallOfFame) Tracks() []string {
	names := make([]string, 0, len(h.tracks))
	for name := range h.tracks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Track returns copies of one track's entries, best first.
func (h *HallOfFame) Track(name string) []HallEntry {
	entries := h.tracks[name]
	out := make([]HallEntry, len(entries))
	for i, e := range entries {
		out[i] = e.clone()
	}
	return out
}

// AddCar archives a finished vehicle on track. It is rejected when the
// vehicle did not finish, the genome is already on that track, or its score
// is within MinFitnessDistance of an existing entry there. A car that is
// trimmed straight back out of a full archive also reports false.
func (h *HallOfFame) AddCar(track string, id genome.ID, score float64, finished bool) bool {
	if !finished {
		return false
	}
	for _, e := range h.tracks[track] {
		if e.Genome == id || math.Abs(e.HomeScore-score) <= h.cfg.MinFitnessDistance {
			return false
		}
	}

	e := &HallEntry{
		Genome:      id,
		HomeTrack:   track,
		HomeScore:   score,
		Evaluations: []Evaluation{{Track: track, Score: score}},
	}
	h.refresh(e)
	h.tracks[track] = append(h.tracks[track], e)
	h.sortTrack(track)

	entries := h.tracks[track]
	if len(entries) > h.cfg.PerTrackSize {
		evicted := entries[h.cfg.PerTrackSize:]
		h.tracks[track] = entries[:h.cfg.PerTrackSize]
		for _, x := range evicted {
			if x == e {
				return false
			}
		}
	}
	return true
}

// UpdateCar adds or overwrites the (track, score) evaluation on every entry
// holding genome id. A higher score on an entry's home track raises its home
// score; lower-ranked entries on that track that are no longer more than
// MinFitnessDistance apart from it are dropped. Returns false when the genome
// is not archived.
func (h *HallOfFame) UpdateCar(id genome.ID, track string, score float64) bool {
	found := false
	for name, entries := range h.tracks {
		touched, raised := false, false
		for _, e := range entries {
			if e.Genome != id {
				continue
			}
			setEvaluation(e, track, score)
			if track == e.HomeTrack && score > e.HomeScore {
				e.HomeScore = score
				raised = true
			}
			h.refresh(e)
			touched = true
		}
		if touched {
			h.sortTrack(name)
			found = true
		}
		if raised {
			h.dedupe(name)
		}
	}
	return found
}

// dedupe keeps, best first, only entries whose home scores differ by more
// than MinFitnessDistance from every entry kept before them.
func (h *HallOfFame) dedupe(track string) {
	entries := h.tracks[track]
	kept := entries[:0]
	for _, e := range entries {
		novel := true
		for _, k := range kept {
			if math.Abs(k.HomeScore-e.HomeScore) <= h.cfg.MinFitnessDistance {
				novel = false
				break
			}
		}
		if novel {
			kept = append(kept, e)
		}
	}
	clear(entries[len(kept):])
	h.tracks[track] = kept
}

// Evaluation returns the recorded score of genome id on track.
func (h *HallOfFame) Evaluation(id genome.ID, track string) (float64, bool) {
	for _, entries := range h.tracks {
		for _, e := range entries {
			if e.Genome != id {
				continue
			}
			for _, ev := range e.Evaluations {
				if ev.Track == track {
					return ev.Score, true
				}
			}
		}
	}
	return 0, false
}

func setEvaluation(e *HallEntry, track string, score float64) {
	for i := range e.Evaluations {
		if e.Evaluations[i].Track == track {
			e.Evaluations[i].Score = score
			return
		}
	}
	e.Evaluations = append(e.Evaluations, Evaluation{Track: track, Score: score})
	sort.Slice(e.Evaluations, func(i, j int) bool {
		return e.Evaluations[i].Track < e.Evaluations[j].Track
	})
}

// refresh recomputes the global score and generalist flag. Scores below the
// finish threshold count as 2s-1, so unfinished tracks weigh heavily.
func (h *HallOfFame) refresh(e *HallEntry) {
	threshold := h.cfg.FinishThreshold
	sum := 0.0
	all := true
	for _, ev := range e.Evaluations {
		if ev.Score >= threshold {
			sum += ev.Score
		} else {
			sum += 2*ev.Score - 1
			all = false
		}
	}
	n := float64(len(e.Evaluations))
	e.GlobalScore = sum * n / (n + globalShrink)
	e.Generalist = all && len(e.Evaluations) >= generalistMinTracks
}

func lessEntry(a, b *HallEntry) bool {
	if a.GlobalScore != b.GlobalScore {
		return a.GlobalScore > b.GlobalScore
	}
	if a.HomeScore != b.HomeScore {
		return a.HomeScore > b.HomeScore
	}
	return a.Genome < b.Genome
}

func (h *HallOfFame) sortTrack(track string) {
	entries := h.tracks[track]
	sort.SliceStable(entries, func(i, j int) bool { return lessEntry(entries[i], entries[j]) })
}

// Pooled returns every archived genome once (its best-ranked entry),
// sorted by global score descending.
func (h *HallOfFame) Pooled() []HallEntry {
	best := make(map[genome.ID]*HallEntry)
	for _, name := range h.Tracks() {
		for _, e := range h.tracks[name] {
			if cur, ok := best[e.Genome]; !ok || lessEntry(e, cur) {
				best[e.Genome] = e
			}
		}
	}
	pooled := make([]*HallEntry, 0, len(best))
	for _, e := range best {
		pooled = append(pooled, e)
	}
	sort.Slice(pooled, func(i, j int) bool { return lessEntry(pooled[i], pooled[j]) })

	out := make([]HallEntry, len(pooled))
	for i, e := range pooled {
		out[i] = e.clone()
	}
	return out
}

// Genomes returns the set of archived genome ids.
func (h *HallOfFame) Genomes() map[genome.ID]struct{} {
	out := make(map[genome.ID]struct{})
	for _, entries := range h.tracks {
		for _, e := range entries {
			out[e.Genome] = struct{}{}
		}
	}
	return out
}

// PickRandom samples up to k distinct genomes without replacement, weighted
// 1/(rank+1) over the pooled archive. When k >= 2 and generalists exist, at
// least min(minGeneralists, available) of them are forced into the sample.
func (h *HallOfFame) PickRandom(k, minGeneralists int, rng *rand.Rand) []genome.ID {
	pooled := h.Pooled()
	if k <= 0 || len(pooled) == 0 {
		return nil
	}
	k = min(k, len(pooled))

	weights := make([]float64, len(pooled))
	for i := range weights {
		weights[i] = 1 / float64(i+1)
	}
	taken := make([]bool, len(pooled))
	picks := make([]int, 0, k)
	for len(picks) < k {
		i := weightedPick(weights, taken, nil, rng)
		taken[i] = true
		picks = append(picks, i)
	}

	if k >= 2 && minGeneralists > 0 {
		isGeneralist := func(i int) bool { return pooled[i].Generalist }
		have, available := 0, 0
		for i, e := range pooled {
			if e.Generalist {
				available++
				if taken[i] {
					have++
				}
			}
		}
		want := min(minGeneralists, available, k)
		// Replace the latest non-generalist picks
		for j := len(picks) - 1; j >= 0 && have < want; j-- {
			if pooled[picks[j]].Generalist {
				continue
			}
			g := weightedPick(weights, taken, isGeneralist, rng)
			taken[picks[j]] = false
			taken[g] = true
			picks[j] = g
			have++
		}
	}

	out := make([]genome.ID, len(picks))
	for i, p := range picks {
		out[i] = pooled[p].Genome
	}
	return out
}

// weightedPick draws one untaken index proportional to weights, optionally
// restricted by allow. Callers guarantee at least one candidate.
func weightedPick(weights []float64, taken []bool, allow func(int) bool, rng *rand.Rand) int {
	total := 0.0
	last := -1
	for i, w := range weights {
		if taken[i] || (allow != nil && !allow(i)) {
			continue
		}
		total += w
		last = i
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if taken[i] || (allow != nil && !allow(i)) {
			continue
		}
		r -= w
		if r < 0 {
			return i
		}
	}
	return last
}

// EvaluationCandidates picks the least-saturated track among tracks (fewest
// archived genomes evaluated on it, ties by order) and returns the pooled
// genomes not yet evaluated there, best first.
func (h *HallOfFame) EvaluationCandidates(tracks []string) (string, []genome.ID) {
	if len(tracks) == 0 {
		return "", nil
	}
	pooled := h.Pooled()

	target, fewest := "", math.MaxInt
	for _, t := range tracks {
		n := 0
		for i := range pooled {
			if pooled[i].Evaluated(t) {
				n++
			}
		}
		if n < fewest {
			target, fewest = t, n
		}
	}

	var ids []genome.ID
	for i := range pooled {
		if !pooled[i].Evaluated(target) {
			ids = append(ids, pooled[i].Genome)
		}
	}
	return target, ids
}
