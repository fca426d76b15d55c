// Package report summarizes calibration results for people: error statistics, a per image table
// and a scatter plot of the reprojection errors.
package report

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/calibration"
)

// ErrNoErrors is returned when a result has no reprojection errors to summarize.
var ErrNoErrors = errors.New("result has no reprojection errors")

// Summary describes the distribution of per point reprojection error magnitudes, in pixels.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Median float64
	P90    float64
	Max    float64
}

// Summarize computes error statistics over the used points of a result.
func Summarize(result *calibration.Result) (Summary, error) {
	data := stats.Float64Data(result.ErrorMagnitudes())
	if data.Len() == 0 {
		return Summary{}, ErrNoErrors
	}
	var s Summary
	var err error
	s.Count = data.Len()
	if s.Mean, err = data.Mean(); err != nil {
		return Summary{}, err
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return Summary{}, err
	}
	if s.Median, err = data.Median(); err != nil {
		return Summary{}, err
	}
	if s.P90, err = data.Percentile(90); err != nil {
		return Summary{}, err
	}
	if s.Max, err = data.Max(); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// PerImageTable renders one row per image with its status, point count and RMS.
func PerImageTable(result *calibration.Result) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Used", "Points", "RMS (px)"})
	rms := result.PerImageRMS()
	for i, used := range result.Status {
		rmsCell := "-"
		if rms[i] >= 0 {
			rmsCell = fmt.Sprintf("%.4f", rms[i])
		}
		t.AppendRow(table.Row{i, used, len(result.ReprojErrors[i]), rmsCell})
	}
	t.AppendFooter(table.Row{"", result.NumImages, result.NumPoints, fmt.Sprintf("%.4f", result.RMS)})
	return t.Render()
}

// Write prints the summary and per image table of a result.
func Write(w io.Writer, result *calibration.Result) error {
	status := "failed"
	if result.Success {
		status = "succeeded"
	}
	if _, err := fmt.Fprintf(w, "calibration %s in %v after %d iterations\n",
		status, result.TotalTime, result.Iterations); err != nil {
		return err
	}
	if result.Err != nil {
		if _, err := fmt.Fprintf(w, "reason: %v\n", result.Err); err != nil {
			return err
		}
	}
	if s, err := Summarize(result); err == nil {
		if _, err := fmt.Fprintf(w, "error: mean %.4f sd %.4f median %.4f p90 %.4f max %.4f over %d points\n",
			s.Mean, s.StdDev, s.Median, s.P90, s.Max, s.Count); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, PerImageTable(result))
	return err
}
