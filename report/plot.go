package report

import (
	"io"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"go.viam.com/camcalib/calibration"
)

// ErrorScatter plots the reprojection error vector of every used point, one color per image.
func ErrorScatter(result *calibration.Result) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Reprojection error"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Add(plotter.NewGrid())

	added := 0
	for i, errs := range result.ReprojErrors {
		if len(errs) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(errs))
		for j, e := range errs {
			xys[j] = plotter.XY{X: e.Error.X, Y: e.Error.Y}
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(1.5)
		s.GlyphStyle.Color = plotutil.Color(added)
		p.Add(s)
		added++
	}
	if added == 0 {
		return nil, ErrNoErrors
	}
	return p, nil
}

// WriteErrorScatter renders ErrorScatter in the given format ("png", "svg", "pdf", ...).
func WriteErrorScatter(w io.Writer, result *calibration.Result, format string) error {
	p, err := ErrorScatter(result)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveErrorScatter renders ErrorScatter to a file, choosing the format from its extension.
func SaveErrorScatter(path string, result *calibration.Result) error {
	p, err := ErrorScatter(result)
	if err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}
