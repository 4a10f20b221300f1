package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
)

func historyOf(track string, best ...float64) *History {
	h := &History{}
	for i, b := range best {
		h.Add(evolution.Summary{Epoch: i, Track: track, Max: b})
	}
	return h
}

func TestStagnant(t *testing.T) {
	tests := []struct {
		name   string
		best   []float64
		window int
		want   bool
	}{
		{"too short", []float64{1, 1, 1}, 3, false},
		{"flat", []float64{1, 1, 1, 1}, 3, true},
		{"improving", []float64{1, 1, 1, 1.2}, 3, false},
		{"regressing", []float64{1.5, 1, 1, 1}, 3, true},
		{"tiny gain", []float64{1, 1.001, 1.002, 1.004}, 3, true},
		{"disabled", []float64{1, 1, 1, 1}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := historyOf("oval", tt.best...)
			assert.Equal(t, tt.want, h.Stagnant("oval", tt.window, 0.01))
		})
	}
}

func TestStagnantPerTrack(t *testing.T) {
	h := historyOf("oval", 1, 1, 1, 1)
	h.Add(evolution.Summary{Track: "circle", Max: 0.5})
	assert.True(t, h.Stagnant("oval", 3, 0.01))
	assert.False(t, h.Stagnant("circle", 3, 0.01))
	assert.Len(t, h.Summaries("circle"), 1)
	assert.Equal(t, 5, h.Len())
}

func TestSelectMode(t *testing.T) {
	cfg := config.ScheduleConfig{StagnationWindow: 2, StagnationEpsilon: 0.01, FineTuneCompletion: 0.6}

	assert.Equal(t, ModeStandard, SelectMode(&History{}, "oval", cfg))
	assert.Equal(t, ModeExploration, SelectMode(historyOf("oval", 1, 1, 1), "oval", cfg))

	h := historyOf("oval", 1, 1.2)
	h.Add(evolution.Summary{Track: "oval", Max: 1.4, CompletionRate: 0.7})
	assert.Equal(t, ModeFineTuning, SelectMode(h, "oval", cfg))

	// Stagnation wins over high completion
	h.Add(evolution.Summary{Track: "oval", Max: 1.4, CompletionRate: 0.9})
	h.Add(evolution.Summary{Track: "oval", Max: 1.4, CompletionRate: 0.9})
	assert.Equal(t, ModeExploration, SelectMode(h, "oval", cfg))
}

func TestModeParams(t *testing.T) {
	base := evolution.Params{HiddenRate: 0.1, HiddenSigma: 0.2, OutputRate: 0.6, OutputSigma: 0.4}
	modes := config.ModesConfig{
		Exploration: config.ModeConfig{RateScale: 2, SigmaScale: 1.5},
		FineTuning:  config.ModeConfig{RateScale: 0.5, SigmaScale: 0.5},
	}

	assert.Equal(t, base, ModeStandard.Params(base, modes))

	ex := ModeExploration.Params(base, modes)
	assert.InDelta(t, 0.2, ex.HiddenRate, 1e-12)
	assert.InDelta(t, 1.0, ex.OutputRate, 1e-12, "rate capped at 1")
	assert.InDelta(t, 0.6, ex.OutputSigma, 1e-12)

	ft := ModeFineTuning.Params(base, modes)
	assert.InDelta(t, 0.05, ft.HiddenRate, 1e-12)
	assert.InDelta(t, 0.1, ft.HiddenSigma, 1e-12)
}
