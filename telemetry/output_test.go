package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("", true)
	if err != nil || om != nil {
		t.Fatalf("got (%v, %v), want nil manager", om, err)
	}
	if err := om.WriteGeneration(GenerationRecord{}); err != nil {
		t.Errorf("nil manager write: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Errorf("nil manager close: %v", err)
	}
}

func TestOutputManagerFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir, true)
	if err != nil {
		t.Fatal(err)
	}

	for epoch := 0; epoch < 3; epoch++ {
		r := GenerationRecord{Epoch: epoch, Track: "oval", Mean: 0.2 * float64(epoch), Max: 0.5 * float64(epoch)}
		if err := om.WriteGeneration(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := om.WritePerf(PerfStatsCSV{Epoch: 0}); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteConfig(config.Default()); err != nil {
		t.Fatal(err)
	}
	for _, bm := range []Bookmark{{Type: BookmarkFirstFinish, Epoch: 1, Track: "oval"}, {Type: BookmarkConverged, Epoch: 2, Track: "oval"}} {
		if err := om.WriteBookmark(bm); err != nil {
			t.Fatal(err)
		}
	}

	hof := evolution.NewHallOfFame(config.HallOfFameConfig{PerTrackSize: 3, MinFitnessDistance: 0.01, FinishThreshold: 1})
	hof.AddCar("oval", 4, 1.2, true)
	if err := om.WriteHallOfFame(hof); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "generations.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("generations.csv has %d lines, want header + 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "epoch,track,") {
		t.Errorf("header = %q", lines[0])
	}

	var got hallOfFameFile
	data, err = os.ReadFile(filepath.Join(dir, "hall_of_fame.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Pooled) != 1 || got.Pooled[0].Genome != 4 {
		t.Errorf("hall of fame json = %+v", got)
	}

	data, err = os.ReadFile(filepath.Join(dir, "bookmarks.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 3 || lines[0] != "type,epoch,track,description" {
		t.Errorf("bookmarks.csv = %q", data)
	}

	for _, name := range []string{"config.yaml", "perf.csv", "history.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestWriteHistoryPlotEmpty(t *testing.T) {
	if err := WriteHistoryPlot(nil, filepath.Join(t.TempDir(), "h.png")); err != ErrNoHistory {
		t.Errorf("err = %v, want ErrNoHistory", err)
	}
}

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Observe(GenerationRecord{Strategy: "rotating", Mode: "exploration", Track: "oval", Max: 1.4, HallOfFameSize: 3, DurationMS: 250})
	m.Observe(GenerationRecord{Strategy: "rotating", Mode: "standard", Track: "oval", Max: 1.6, HallOfFameSize: 4})
	m.PersistFailed()

	if got := testutil.ToFloat64(m.generations.WithLabelValues("rotating")); got != 2 {
		t.Errorf("generations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.bestScore.WithLabelValues("oval")); got != 1.6 {
		t.Errorf("best score = %v, want 1.6", got)
	}
	if got := testutil.ToFloat64(m.hallOfFameSize); got != 4 {
		t.Errorf("hof size = %v, want 4", got)
	}
	if got := testutil.CollectAndCount(m.mode); got != 1 {
		t.Errorf("%d mode series, want only the active one", got)
	}
	if got := testutil.ToFloat64(m.persistErrors); got != 1 {
		t.Errorf("persist errors = %v, want 1", got)
	}

	var nilMetrics *Metrics
	nilMetrics.Observe(GenerationRecord{})
	nilMetrics.PersistFailed()
}
