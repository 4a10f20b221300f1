package telemetry

import (
	"errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrNoHistory is returned when plotting an empty history.
var ErrNoHistory = errors.New("no generations to plot")

// WriteHistoryPlot draws best, mean and median score plus completion rate
// per epoch and saves it to path. The format follows the file extension.
func WriteHistoryPlot(records []GenerationRecord, path string) error {
	if len(records) == 0 {
		return ErrNoHistory
	}

	p := plot.New()
	p.Title.Text = "Score history"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Score"

	best := make(plotter.XYs, len(records))
	mean := make(plotter.XYs, len(records))
	median := make(plotter.XYs, len(records))
	completion := make(plotter.XYs, len(records))
	for i, r := range records {
		x := float64(r.Epoch)
		best[i] = plotter.XY{X: x, Y: r.Max}
		mean[i] = plotter.XY{X: x, Y: r.Mean}
		median[i] = plotter.XY{X: x, Y: r.Median}
		completion[i] = plotter.XY{X: x, Y: r.CompletionRate}
	}

	series := []struct {
		name string
		pts  plotter.XYs
	}{
		{"best", best},
		{"mean", mean},
		{"median", median},
		{"completion", completion},
	}
	for i, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
