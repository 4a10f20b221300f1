package trainer

import (
	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
)

// Mode is a hyperparameter regime that scales mutation.
type Mode string

const (
	ModeStandard    Mode = "standard"
	ModeExploration Mode = "exploration"
	ModeFineTuning  Mode = "fine_tuning"
)

// History holds the summaries of past generations, oldest first.
type History struct {
	summaries []evolution.Summary
}

// Add appends a summary.
func (h *History) Add(s evolution.Summary) {
	h.summaries = append(h.summaries, s)
}

// Len returns the number of summaries.
func (h *History) Len() int {
	return len(h.summaries)
}

// All returns every summary, oldest first.
func (h *History) All() []evolution.Summary {
	return h.summaries
}

// Summaries returns the summaries of track, oldest first.
func (h *History) Summaries(track string) []evolution.Summary {
	var out []evolution.Summary
	for _, s := range h.summaries {
		if s.Track == track {
			out = append(out, s)
		}
	}
	return out
}

// Stagnant reports whether the best score on track improved by less than
// epsilon over the last window generations raced there. Tracks with no more
// than window generations are never stagnant.
func (h *History) Stagnant(track string, window int, epsilon float64) bool {
	if window <= 0 {
		return false
	}
	s := h.Summaries(track)
	if len(s) <= window {
		return false
	}
	before := bestOf(s[:len(s)-window])
	within := bestOf(s[len(s)-window:])
	return within-before < epsilon
}

func bestOf(s []evolution.Summary) float64 {
	best := s[0].Max
	for _, x := range s[1:] {
		if x.Max > best {
			best = x.Max
		}
	}
	return best
}

// SelectMode picks exploration when track has stagnated, fine-tuning once the
// latest completion rate on track reaches the configured level, and standard
// otherwise.
func SelectMode(h *History, track string, cfg config.ScheduleConfig) Mode {
	if h.Stagnant(track, cfg.StagnationWindow, cfg.StagnationEpsilon) {
		return ModeExploration
	}
	s := h.Summaries(track)
	if len(s) > 0 && cfg.FineTuneCompletion > 0 && s[len(s)-1].CompletionRate >= cfg.FineTuneCompletion {
		return ModeFineTuning
	}
	return ModeStandard
}

// Params scales base by the mode's multipliers.
func (m Mode) Params(base evolution.Params, modes config.ModesConfig) evolution.Params {
	switch m {
	case ModeExploration:
		return base.Scaled(modes.Exploration)
	case ModeFineTuning:
		return base.Scaled(modes.FineTuning)
	default:
		return base
	}
}
