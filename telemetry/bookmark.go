package telemetry

import (
	"fmt"
	"log/slog"
	"math"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkFirstFinish            BookmarkType = "first_finish"
	BookmarkScoreBreakthrough      BookmarkType = "score_breakthrough"
	BookmarkCompletionCollapse     BookmarkType = "completion_collapse"
	BookmarkGeneralistBreakthrough BookmarkType = "generalist_breakthrough"
	BookmarkConverged              BookmarkType = "converged"
)

// Bookmark marks a notable generation.
type Bookmark struct {
	Type        BookmarkType `csv:"type" json:"type"`
	Epoch       int          `csv:"epoch" json:"epoch"`
	Track       string       `csv:"track" json:"track"`
	Description string       `csv:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"epoch", b.Epoch,
		"track", b.Track,
		"description", b.Description,
	)
}

// trackState is the detector's per-track memory.
type trackState struct {
	// Rolling history (circular buffer)
	history     []GenerationRecord
	historyIdx  int
	historyFull bool

	finished           bool    // a vehicle has finished here
	recentPeak         float64 // peak completion rate since the last collapse
	stableWindowsCount int     // consecutive generations with a flat mean
}

func (s *trackState) add(r GenerationRecord) {
	s.history[s.historyIdx] = r
	s.historyIdx = (s.historyIdx + 1) % len(s.history)
	if s.historyIdx == 0 {
		s.historyFull = true
	}
}

// recent returns the history, oldest first.
func (s *trackState) recent() []GenerationRecord {
	if !s.historyFull {
		return s.history[:s.historyIdx]
	}
	return append(append([]GenerationRecord(nil), s.history[s.historyIdx:]...), s.history[:s.historyIdx]...)
}

// BookmarkDetector detects notable generations per track.
type BookmarkDetector struct {
	historySize     int
	tracks          map[string]*trackState
	peakGeneralists int
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5 // minimum for convergence detection
	}
	return &BookmarkDetector{historySize: historySize, tracks: make(map[string]*trackState)}
}

// Check analyzes the latest generation and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(r GenerationRecord) []Bookmark {
	s, ok := bd.tracks[r.Track]
	if !ok {
		s = &trackState{history: make([]GenerationRecord, bd.historySize)}
		bd.tracks[r.Track] = s
	}

	var bookmarks []Bookmark
	for _, check := range []func(*trackState, GenerationRecord) *Bookmark{
		bd.checkFirstFinish,
		bd.checkScoreBreakthrough,
		bd.checkCompletionCollapse,
		bd.checkGeneralists,
		bd.checkConverged,
	} {
		if b := check(s, r); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	s.add(r)
	s.recentPeak = math.Max(s.recentPeak, r.CompletionRate)
	return bookmarks
}

func (bd *BookmarkDetector) checkFirstFinish(s *trackState, r GenerationRecord) *Bookmark {
	if s.finished || r.CompletionRate == 0 {
		return nil
	}
	s.finished = true
	return &Bookmark{
		Type:        BookmarkFirstFinish,
		Epoch:       r.Epoch,
		Track:       r.Track,
		Description: fmt.Sprintf("First finish, completion rate %.2f", r.CompletionRate),
	}
}

func (bd *BookmarkDetector) checkScoreBreakthrough(s *trackState, r GenerationRecord) *Bookmark {
	history := s.recent()
	if len(history) < 3 {
		return nil
	}

	// Rolling average of the best score
	var total float64
	for _, h := range history {
		total += h.Max
	}
	avg := total / float64(len(history))
	if avg <= 0 {
		return nil
	}

	if r.Max > avg*1.25 {
		return &Bookmark{
			Type:        BookmarkScoreBreakthrough,
			Epoch:       r.Epoch,
			Track:       r.Track,
			Description: fmt.Sprintf("Best score %.3f is %.2fx average (%.3f)", r.Max, r.Max/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkCompletionCollapse(s *trackState, r GenerationRecord) *Bookmark {
	if s.recentPeak < 0.2 {
		return nil
	}

	drop := 1 - r.CompletionRate/s.recentPeak
	if drop > 0.5 {
		// Reset the peak after a collapse
		oldPeak := s.recentPeak
		s.recentPeak = r.CompletionRate
		return &Bookmark{
			Type:        BookmarkCompletionCollapse,
			Epoch:       r.Epoch,
			Track:       r.Track,
			Description: fmt.Sprintf("Completion fell %.0f%% from peak %.2f to %.2f", drop*100, oldPeak, r.CompletionRate),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkGeneralists(_ *trackState, r GenerationRecord) *Bookmark {
	if r.Generalists <= bd.peakGeneralists {
		return nil
	}
	old := bd.peakGeneralists
	bd.peakGeneralists = r.Generalists
	return &Bookmark{
		Type:        BookmarkGeneralistBreakthrough,
		Epoch:       r.Epoch,
		Track:       r.Track,
		Description: fmt.Sprintf("Generalists increased from %d to %d", old, r.Generalists),
	}
}

func (bd *BookmarkDetector) checkConverged(s *trackState, r GenerationRecord) *Bookmark {
	history := s.recent()
	if len(history) < 4 || r.Mean <= 0 {
		s.stableWindowsCount = 0
		return nil
	}

	// Variance of the mean score over the last four generations
	last := history[len(history)-4:]
	var sum float64
	for _, h := range last {
		sum += h.Mean
	}
	mean := sum / 4
	var variance float64
	for _, h := range last {
		d := h.Mean - mean
		variance += d * d
	}
	variance /= 4

	if mean > 0 && variance/(mean*mean) < 0.0004 { // CV < 2%
		s.stableWindowsCount++
	} else {
		s.stableWindowsCount = 0
	}

	if s.stableWindowsCount == 5 { // trigger exactly once per plateau
		return &Bookmark{
			Type:        BookmarkConverged,
			Epoch:       r.Epoch,
			Track:       r.Track,
			Description: fmt.Sprintf("Mean score flat at %.3f over 5+ generations", r.Mean),
		}
	}
	return nil
}
