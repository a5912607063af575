package coloc

import (
	"strconv"
	"strings"
)

// DefaultThreshold is the colocalization fraction a spot must exceed to be
// counted as colocalized.
const DefaultThreshold = 0.3

const (
	summaryHeader = "Name,TotalSpots,NumColoc,NumMissed,MassColoc,MassMissed"
	fullHeader    = summaryHeader + ",PixelsAve,MassAve,PixelsColocAve,PixelsMissedAve,MassColocAve,MassMissedAve"
)

// Bucket holds the running sums of one group of spots.
type Bucket struct {
	N         int     `json:"n"`
	Pixels    float64 `json:"pixels_sum"`
	Intensity float64 `json:"intensity_sum"`
}

func (b *Bucket) add(s Spot) {
	b.N++
	b.Pixels += s.Pixels
	b.Intensity += s.Intensity
}

// PixelsAverage returns the mean pixel count, or 0 for an empty bucket.
func (b Bucket) PixelsAverage() float64 {
	if b.N == 0 {
		return 0
	}
	return b.Pixels / float64(b.N)
}

// IntensityAverage returns the mean intensity sum, or 0 for an empty bucket.
func (b Bucket) IntensityAverage() float64 {
	if b.N == 0 {
		return 0
	}
	return b.Intensity / float64(b.N)
}

// Averages are derived from the bucket sums. An empty bucket averages to 0.
type Averages struct {
	Pixels          float64 `json:"pixels_ave"`
	Intensity       float64 `json:"intensity_ave"`
	PixelsColoc     float64 `json:"pixels_coloc_ave"`
	PixelsMissed    float64 `json:"pixels_missed_ave"`
	IntensityColoc  float64 `json:"intensity_coloc_ave"`
	IntensityMissed float64 `json:"intensity_missed_ave"`
}

// Aggregator accumulates the spots falling inside one cell.
// It is not safe for concurrent use.
type Aggregator struct {
	name      string
	threshold float64

	total  Bucket
	coloc  Bucket
	missed Bucket
}

// NewAggregator creates an empty aggregator for the named cell.
func NewAggregator(name string, threshold float64) *Aggregator {
	return &Aggregator{name: name, threshold: threshold}
}

// Name returns the cell name.
func (a *Aggregator) Name() string { return a.name }

// Threshold returns the colocalization threshold.
func (a *Aggregator) Threshold() float64 { return a.threshold }

// AddLine adds one spot. Records with fewer than MinFields fields are
// ignored. A spot is colocalized when its fraction is strictly above the
// threshold.
func (a *Aggregator) AddLine(s Spot) {
	if !s.Valid() {
		return
	}
	a.total.add(s)
	if s.Fraction > a.threshold {
		a.coloc.add(s)
	} else {
		a.missed.add(s)
	}
}

// Totals returns the bucket sums: all spots, colocalized and missed.
func (a *Aggregator) Totals() (total, coloc, missed Bucket) {
	return a.total, a.coloc, a.missed
}

// Averages computes the derived averages without changing any sums.
func (a *Aggregator) Averages() Averages {
	return Averages{
		Pixels:          a.total.PixelsAverage(),
		Intensity:       a.total.IntensityAverage(),
		PixelsColoc:     a.coloc.PixelsAverage(),
		PixelsMissed:    a.missed.PixelsAverage(),
		IntensityColoc:  a.coloc.IntensityAverage(),
		IntensityMissed: a.missed.IntensityAverage(),
	}
}

// Report snapshots the aggregator. Calling it again without further AddLine
// calls yields an identical report.
func (a *Aggregator) Report() Report {
	return Report{
		Name:     a.name,
		Total:    a.total,
		Coloc:    a.coloc,
		Missed:   a.missed,
		Averages: a.Averages(),
	}
}

// Report is the summary of one cell.
type Report struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Total    Bucket   `json:"total"`
	Coloc    Bucket   `json:"coloc"`
	Missed   Bucket   `json:"missed"`
	Averages Averages `json:"averages"`
}

// ColocFraction returns the share of the cell's spots that are colocalized,
// and false when the cell has no spots.
func (r Report) ColocFraction() (float64, bool) {
	if r.Total.N == 0 {
		return 0, false
	}
	return float64(r.Coloc.N) / float64(r.Total.N), true
}

// ReportHeader returns the column header matching Report.Line.
func ReportHeader() string { return summaryHeader }

// FullHeader returns the column header matching Report.FullLine.
func FullHeader() string { return fullHeader }

// Line formats the summary columns: name, spot counts and the intensity sums
// of the colocalized and missed buckets.
func (r Report) Line() string {
	return strings.Join([]string{
		r.Name,
		strconv.Itoa(r.Total.N),
		strconv.Itoa(r.Coloc.N),
		strconv.Itoa(r.Missed.N),
		formatFloat(r.Coloc.Intensity),
		formatFloat(r.Missed.Intensity),
	}, ",")
}

// FullLine formats the summary columns followed by the six averages.
func (r Report) FullLine() string {
	return strings.Join([]string{
		r.Line(),
		formatFloat(r.Averages.Pixels),
		formatFloat(r.Averages.Intensity),
		formatFloat(r.Averages.PixelsColoc),
		formatFloat(r.Averages.PixelsMissed),
		formatFloat(r.Averages.IntensityColoc),
		formatFloat(r.Averages.IntensityMissed),
	}, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
