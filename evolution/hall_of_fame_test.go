package evolution

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/genome"
)

func testHallConfig() config.HallOfFameConfig {
	return config.HallOfFameConfig{PerTrackSize: 5, MinFitnessDistance: 0.01, FinishThreshold: 1, MinGeneralists: 1}
}

func TestAddCarRejections(t *testing.T) {
	h := NewHallOfFame(testHallConfig())
	if h.AddCar("oval", 1, 1.5, false) {
		t.Error("unfinished car accepted")
	}
	if !h.AddCar("oval", 1, 1.5, true) {
		t.Fatal("first finished car rejected")
	}
	if h.AddCar("oval", 2, 1.505, true) {
		t.Error("car within min fitness distance accepted")
	}
	if h.AddCar("oval", 1, 1.8, true) {
		t.Error("same genome accepted twice on one track")
	}
	if !h.AddCar("circle", 2, 1.505, true) {
		t.Error("near score on another track rejected")
	}
	if h.Len() != 2 {
		t.Errorf("len = %d, want 2", h.Len())
	}
}

func TestAddCarInvariants(t *testing.T) {
	cfg := testHallConfig()
	h := NewHallOfFame(cfg)
	rng := rand.New(rand.NewSource(4))
	tracks := []string{"oval", "circle", "stretch"}

	for i := 0; i < 2000; i++ {
		track := tracks[rng.Intn(len(tracks))]
		h.AddCar(track, genome.ID(i+1), 1+rng.Float64(), rng.Float64() < 0.8)
	}

	for _, track := range tracks {
		entries := h.Track(track)
		if len(entries) > cfg.PerTrackSize {
			t.Errorf("%s holds %d entries, cap %d", track, len(entries), cfg.PerTrackSize)
		}
		for i := range entries {
			for j := i + 1; j < len(entries); j++ {
				if math.Abs(entries[i].HomeScore-entries[j].HomeScore) <= cfg.MinFitnessDistance {
					t.Errorf("%s entries %d and %d too close: %v vs %v", track, i, j, entries[i].HomeScore, entries[j].HomeScore)
				}
			}
			if i > 0 && entries[i].GlobalScore > entries[i-1].GlobalScore {
				t.Errorf("%s not sorted at %d", track, i)
			}
		}
	}
}

func TestAddCarEvictsLowest(t *testing.T) {
	cfg := testHallConfig()
	cfg.PerTrackSize = 2
	h := NewHallOfFame(cfg)
	h.AddCar("oval", 1, 1.2, true)
	h.AddCar("oval", 2, 1.4, true)
	if h.AddCar("oval", 3, 1.1, true) {
		t.Error("car trimmed from a full archive reported as added")
	}
	if !h.AddCar("oval", 4, 1.6, true) {
		t.Fatal("better car rejected")
	}
	got := h.Track("oval")
	if len(got) != 2 || got[0].Genome != 4 || got[1].Genome != 2 {
		t.Errorf("archive = %+v", got)
	}
}

func TestGlobalScoreAndGeneralist(t *testing.T) {
	h := NewHallOfFame(testHallConfig())
	h.AddCar("a", 1, 1.5, true)
	if !h.UpdateCar(1, "b", 0.5) {
		t.Fatal("update of archived genome failed")
	}
	e := h.Track("a")[0]
	want := (1.5 + (2*0.5 - 1)) * 2 / 5.5
	if math.Abs(e.GlobalScore-want) > 1e-12 || e.Generalist {
		t.Errorf("global = %v generalist = %v, want %v false", e.GlobalScore, e.Generalist, want)
	}

	h.UpdateCar(1, "b", 1.2)
	h.UpdateCar(1, "c", 1.1)
	e = h.Track("a")[0]
	want = (1.5 + 1.2 + 1.1) * 3 / 6.5
	if math.Abs(e.GlobalScore-want) > 1e-12 || !e.Generalist {
		t.Errorf("global = %v generalist = %v, want %v true", e.GlobalScore, e.Generalist, want)
	}
	if len(e.Evaluations) != 3 || e.Evaluations[1].Score != 1.2 {
		t.Errorf("evaluations = %+v", e.Evaluations)
	}
	if e.HomeScore != 1.5 {
		t.Errorf("home score changed to %v", e.HomeScore)
	}

	if h.UpdateCar(99, "a", 1) {
		t.Error("update of unknown genome succeeded")
	}
}

func TestUpdateCarRaisesHomeScore(t *testing.T) {
	h := NewHallOfFame(testHallConfig())
	h.AddCar("oval", 1, 1.10, true)
	h.UpdateCar(1, "oval", 1.30)
	if e := h.Track("oval")[0]; e.HomeScore != 1.30 {
		t.Fatalf("home score = %v, want 1.30", e.HomeScore)
	}
	if h.AddCar("oval", 2, 1.30, true) {
		t.Error("car matching the raised home score accepted")
	}

	h.UpdateCar(1, "oval", 1.00)
	if e := h.Track("oval")[0]; e.HomeScore != 1.30 {
		t.Errorf("lower home-track score dropped home score to %v", e.HomeScore)
	}
}

func TestUpdateCarDropsCrowdedEntries(t *testing.T) {
	h := NewHallOfFame(testHallConfig())
	h.AddCar("oval", 1, 1.10, true)
	h.AddCar("oval", 2, 1.50, true)
	h.AddCar("oval", 3, 1.20, true)

	// Genome 1 rises next to genome 2; only the better ranked one stays.
	h.UpdateCar(1, "oval", 1.505)
	entries := h.Track("oval")
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want 2", entries)
	}
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if math.Abs(entries[i].HomeScore-entries[j].HomeScore) <= 0.01 {
				t.Errorf("entries %d and %d too close: %v vs %v", i, j, entries[i].HomeScore, entries[j].HomeScore)
			}
		}
	}
	if entries[0].Genome != 1 || entries[1].Genome != 3 {
		t.Errorf("kept genomes %d and %d, want 1 and 3", entries[0].Genome, entries[1].Genome)
	}
}

func TestPickRandomDistinct(t *testing.T) {
	h := NewHallOfFame(testHallConfig())
	for i := 0; i < 5; i++ {
		h.AddCar("oval", genome.ID(i+1), 1+float64(i)*0.1, true)
		h.AddCar("circle", genome.ID(i+1), 1+float64(i)*0.1, true)
	}
	rng := rand.New(rand.NewSource(2))
	for trial := 0; trial < 100; trial++ {
		picks := h.PickRandom(4, 0, rng)
		if len(picks) != 4 {
			t.Fatalf("got %d picks", len(picks))
		}
		seen := map[genome.ID]bool{}
		for _, id := range picks {
			if seen[id] {
				t.Fatalf("duplicate pick %d", id)
			}
			seen[id] = true
		}
	}
	if got := h.PickRandom(50, 0, rng); len(got) != 5 {
		t.Errorf("oversized k returned %d, want 5 pooled genomes", len(got))
	}
	if got := NewHallOfFame(testHallConfig()).PickRandom(3, 1, rng); got != nil {
		t.Errorf("empty archive returned %v", got)
	}
}

func TestPickRandomRankWeighted(t *testing.T) {
	h := NewHallOfFame(testHallConfig())
	for i := 0; i < 5; i++ {
		h.AddCar("oval", genome.ID(i+1), 1+float64(i)*0.1, true)
	}
	rng := rand.New(rand.NewSource(3))
	counts := map[genome.ID]int{}
	for i := 0; i < 20000; i++ {
		counts[h.PickRandom(1, 0, rng)[0]]++
	}
	// Genome 5 ranks first with weight 1, genome 1 last with weight 1/5.
	ratio := float64(counts[5]) / float64(counts[1])
	if math.Abs(ratio-5) > 0.5 {
		t.Errorf("top/bottom pick ratio = %v, want ~5", ratio)
	}
}

func TestPickRandomForcesGeneralist(t *testing.T) {
	h := NewHallOfFame(testHallConfig())
	for i := 0; i < 5; i++ {
		h.AddCar("a", genome.ID(i+2), 10+float64(i), true)
	}
	h.AddCar("b", 1, 1.0, true)
	h.UpdateCar(1, "c", 1.0)
	h.UpdateCar(1, "d", 1.0)

	pooled := h.Pooled()
	if last := pooled[len(pooled)-1]; last.Genome != 1 || !last.Generalist {
		t.Fatalf("setup: lowest pooled entry %+v, want generalist 1", last)
	}

	rng := rand.New(rand.NewSource(6))
	for trial := 0; trial < 200; trial++ {
		found := false
		for _, id := range h.PickRandom(2, 1, rng) {
			if id == 1 {
				found = true
			}
		}
		if !found {
			t.Fatalf("trial %d: generalist missing from sample", trial)
		}
	}
}

func TestEvaluationCandidates(t *testing.T) {
	h := NewHallOfFame(testHallConfig())
	h.AddCar("a", 1, 1.5, true)
	h.AddCar("a", 2, 1.3, true)
	h.AddCar("b", 3, 1.2, true)
	h.UpdateCar(1, "b", 1.1)
	h.UpdateCar(1, "c", 1.1)

	// a: 1, 2 evaluated; b: 1, 3; c: 1 only.
	track, ids := h.EvaluationCandidates([]string{"a", "b", "c"})
	if track != "c" {
		t.Fatalf("track = %q, want c", track)
	}
	if len(ids) != 2 {
		t.Fatalf("candidates = %v, want genomes 2 and 3", ids)
	}
	for _, id := range ids {
		if id == 1 {
			t.Error("already evaluated genome returned")
		}
	}
}

func TestHallOfFameSnapshotRestore(t *testing.T) {
	arena := genome.NewArena(16)
	rng := rand.New(rand.NewSource(12))
	h := NewHallOfFame(testHallConfig())
	for i := 0; i < 4; i++ {
		g := arena.NewRandom(1, rng)
		h.AddCar("oval", g.ID, 1+float64(i)*0.2, true)
	}
	h.UpdateCar(arena.IDs()[0], "circle", 1.4)

	snap, err := h.Snapshot(arena)
	if err != nil {
		t.Fatal(err)
	}

	fresh := genome.NewArena(16)
	restored := NewHallOfFame(testHallConfig())
	if err := restored.Restore(snap, fresh); err != nil {
		t.Fatal(err)
	}
	want, got := h.Pooled(), restored.Pooled()
	if len(got) != len(want) {
		t.Fatalf("restored %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Genome != want[i].Genome || got[i].GlobalScore != want[i].GlobalScore {
			t.Errorf("entry %d: got %+v want %+v", i, got[i], want[i])
		}
		if fresh.Get(got[i].Genome) == nil {
			t.Errorf("genome %d not registered", got[i].Genome)
		}
	}
}

func TestHallOfFameRestoreFailureLeavesArena(t *testing.T) {
	arena := genome.NewArena(16)
	rng := rand.New(rand.NewSource(13))
	h := NewHallOfFame(testHallConfig())
	for i := 0; i < 3; i++ {
		g := arena.NewRandom(1, rng)
		h.AddCar("oval", g.ID, 1+float64(i)*0.2, true)
	}
	snap, err := h.Snapshot(arena)
	if err != nil {
		t.Fatal(err)
	}
	snap.Entries[len(snap.Entries)-1].Genome.Scale = 0

	fresh := genome.NewArena(16)
	kept := fresh.NewRandom(1, rng)
	restored := NewHallOfFame(testHallConfig())
	restored.AddCar("circle", kept.ID, 1.5, true)

	if err := restored.Restore(snap, fresh); err == nil {
		t.Fatal("restore of a corrupt entry succeeded")
	}
	if fresh.Len() != 1 {
		t.Errorf("arena holds %d genomes after failed restore, want 1", fresh.Len())
	}
	if got := restored.Pooled(); len(got) != 1 || got[0].Genome != kept.ID {
		t.Errorf("archive changed after failed restore: %+v", got)
	}
}
