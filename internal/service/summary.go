package service

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/soma-tiles/spotcoloc/internal/coloc"
)

// Summary describes a whole run.
type Summary struct {
	Regions      int     `json:"regions"`
	EmptyRegions int     `json:"empty_regions"`
	Spots        int     `json:"spots"` // spot assignments; a spot in two cells counts twice
	Coloc        int     `json:"coloc"`
	Missed       int     `json:"missed"`
	MeanFraction float64 `json:"mean_coloc_fraction"`
	StdFraction  float64 `json:"std_coloc_fraction"`
	// WeightedFraction weights each cell's fraction by its spot count.
	WeightedFraction float64 `json:"weighted_coloc_fraction"`
}

// Summarize computes run totals and the spread of the per-cell colocalized
// fraction. Cells without spots are counted but take no part in the fraction
// statistics.
func Summarize(reports []coloc.Report) Summary {
	sum := Summary{Regions: len(reports)}

	fractions := make([]float64, 0, len(reports))
	weights := make([]float64, 0, len(reports))
	for _, r := range reports {
		sum.Spots += r.Total.N
		sum.Coloc += r.Coloc.N
		sum.Missed += r.Missed.N

		f, ok := r.ColocFraction()
		if !ok {
			sum.EmptyRegions++
			continue
		}
		fractions = append(fractions, f)
		weights = append(weights, float64(r.Total.N))
	}

	switch len(fractions) {
	case 0:
	case 1:
		sum.MeanFraction = fractions[0]
		sum.WeightedFraction = fractions[0]
	default:
		sum.MeanFraction, sum.StdFraction = stat.MeanStdDev(fractions, nil)
		sum.WeightedFraction = stat.Mean(fractions, weights)
	}
	if math.IsNaN(sum.StdFraction) {
		sum.StdFraction = 0
	}
	return sum
}
