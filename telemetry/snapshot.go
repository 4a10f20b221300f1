package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/genome"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the champion of a bookmarked generation so it can be
// replayed or seeded into another run.
type Snapshot struct {
	Version   int    `json:"version"`
	Evolution string `json:"evolution"`
	Epoch     int    `json:"epoch"`
	Track     string `json:"track"`

	Summary evolution.Summary `json:"summary"`

	// Champion is the best member of the generation
	Champion genome.Quantized `json:"champion"`
	Score    float64          `json:"score"`
	Stats    evolution.Stats  `json:"stats"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// NewSnapshot captures the best member of a scored population.
func NewSnapshot(evolutionID string, pop *evolution.Population, arena *genome.Arena, bm *Bookmark) (*Snapshot, error) {
	sum, err := pop.Summary()
	if err != nil {
		return nil, err
	}
	best := pop.Ranked()[0]
	g := arena.Get(pop.Genomes[best])
	if g == nil {
		return nil, fmt.Errorf("snapshot: champion %d not in arena", pop.Genomes[best])
	}
	stats, _ := pop.Stats(best)
	return &Snapshot{
		Version:   SnapshotVersion,
		Evolution: evolutionID,
		Epoch:     pop.Epoch,
		Track:     pop.Track,
		Summary:   sum,
		Champion:  genome.Quantize(g),
		Score:     pop.Score(best),
		Stats:     stats,
		Bookmark:  bm,
	}, nil
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	// Build filename
	name := fmt.Sprintf("snapshot_%d_%s", snapshot.Epoch, sanitize(snapshot.Track))
	if snapshot.Bookmark != nil {
		name += "_" + sanitize(string(snapshot.Bookmark.Type))
	}
	name += ".json"

	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
}
