package dashboard

import (
	"time"

	"github.com/clinicdash/clinicdash/pkg/datefmt"
)

// Series is one metric's values aligned to ChartSeries.Labels. A nil entry
// is a gap and must be rendered as a broken segment, never as zero.
type Series struct {
	Metric string     `json:"metric"`
	Values []*float64 `json:"values"`
}

// ChartSeries is the label-aligned matrix fed to the evolution chart.
type ChartSeries struct {
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

// EmptySeries is the reset state: no labels and one empty series per metric.
func EmptySeries(metrics []string) ChartSeries {
	out := ChartSeries{Labels: []string{}, Series: make([]Series, 0, len(metrics))}
	for _, m := range metrics {
		out.Series = append(out.Series, Series{Metric: m, Values: []*float64{}})
	}
	return out
}

func (c ChartSeries) clone() ChartSeries {
	out := ChartSeries{Labels: append([]string{}, c.Labels...), Series: make([]Series, len(c.Series))}
	for i, s := range c.Series {
		out.Series[i] = Series{Metric: s.Metric, Values: append([]*float64{}, s.Values...)}
	}
	return out
}

// Value returns the score of metric at label, and false for a gap.
func (c ChartSeries) Value(metric, label string) (float64, bool) {
	idx := -1
	for i, l := range c.Labels {
		if l == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}
	for _, s := range c.Series {
		if s.Metric == metric && idx < len(s.Values) && s.Values[idx] != nil {
			return *s.Values[idx], true
		}
	}
	return 0, false
}

// Pivot turns row-oriented observations into one series per metric over a
// shared label axis. Labels are the distinct observation dates formatted in
// loc, in order of first appearance. When several observations share a label
// and metric the first one wins. Observations whose date cannot be parsed are
// skipped.
func Pivot(obs []ProgressObservation, metrics []string, loc *time.Location) ChartSeries {
	out := EmptySeries(metrics)

	type cell struct{ label, metric string }
	index := map[string]int{}
	first := map[cell]float64{}

	for _, o := range obs {
		t, err := datefmt.Parse(o.Date, loc)
		if err != nil {
			continue
		}
		label := t.Format(datefmt.Label)
		if _, seen := index[label]; !seen {
			index[label] = len(out.Labels)
			out.Labels = append(out.Labels, label)
		}
		k := cell{label, o.Metric}
		if _, taken := first[k]; !taken {
			first[k] = o.Score
		}
	}

	for i := range out.Series {
		values := make([]*float64, len(out.Labels))
		for j, label := range out.Labels {
			if score, ok := first[cell{label, out.Series[i].Metric}]; ok {
				v := score
				values[j] = &v
			}
		}
		out.Series[i].Values = values
	}
	return out
}
