package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/soma-tiles/spotcoloc/internal/coloc"
	"github.com/soma-tiles/spotcoloc/internal/data/cells"
	"github.com/soma-tiles/spotcoloc/internal/geom"
)

func square(name string, x0, y0, x1, y1 float64) cells.Region {
	return cells.Region{
		Name:  name,
		Label: name,
		Vertices: []geom.Point{
			{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
		},
	}
}

func spotAt(x, y, pixels, sum, fract float64) coloc.Spot {
	return coloc.ParseSpot(fmt.Sprintf("0,%g,%g,%g,%g,0,0,0,%g,accepted", x, y, pixels, sum, fract))
}

func TestRunTwoSpotScenario(t *testing.T) {
	svc := NewColocService(ColocServiceConfig{YMax: 100, Threshold: 0.3, Workers: 1})
	regions := []cells.Region{square("c0", 0, 0, 20, 20)}
	spots := []coloc.Spot{
		spotAt(5, 5, 10, 100, 0.5),
		spotAt(6, 6, 20, 200, 0.1),
		spotAt(50, 50, 30, 300, 0.9), // outside
	}

	reports, err := svc.Run(context.Background(), regions, spots)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	r := reports[0]
	if r.Total.N != 2 || r.Coloc.N != 1 || r.Missed.N != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", r.Total.N, r.Coloc.N, r.Missed.N)
	}
	if r.Label != "c0" {
		t.Errorf("label = %q", r.Label)
	}
}

func TestRunOverlappingRegionsCountTwice(t *testing.T) {
	svc := NewColocService(ColocServiceConfig{YMax: 100, Threshold: 0.3, Workers: 2})
	regions := []cells.Region{
		square("a", 0, 0, 30, 30),
		square("b", 10, 10, 40, 40),
	}
	spots := []coloc.Spot{spotAt(20, 20, 1, 1, 0.9)}

	reports, err := svc.Run(context.Background(), regions, spots)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range reports {
		if r.Total.N != 1 {
			t.Errorf("region %s: n = %d, want 1", r.Name, r.Total.N)
		}
	}
}

func TestRunPreservesRegionOrder(t *testing.T) {
	svc := NewColocService(ColocServiceConfig{YMax: 512, Threshold: 0.3, Workers: 8})

	var regions []cells.Region
	var spots []coloc.Spot
	for i := 0; i < 40; i++ {
		x := float64(i * 10)
		regions = append(regions, square(fmt.Sprintf("r%d", i), x, 0, x+10, 10))
		// i+1 spots in region i.
		for j := 0; j <= i; j++ {
			spots = append(spots, spotAt(x+5, 5, 1, 1, 0.5))
		}
	}

	reports, err := svc.Run(context.Background(), regions, spots)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range reports {
		if r.Name != regions[i].Name {
			t.Fatalf("report %d is %q, want %q", i, r.Name, regions[i].Name)
		}
		if r.Total.N != i+1 {
			t.Errorf("region %s: n = %d, want %d", r.Name, r.Total.N, i+1)
		}
	}
}

func TestRunEmptyAndDegenerateRegions(t *testing.T) {
	svc := NewColocService(ColocServiceConfig{YMax: 100, Threshold: 0.3})
	regions := []cells.Region{
		square("empty", 60, 60, 70, 70),
		{Name: "line", Vertices: []geom.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}},
	}
	spots := []coloc.Spot{spotAt(5, 5, 1, 1, 0.5)}

	reports, err := svc.Run(context.Background(), regions, spots)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range reports {
		if r.Total.N != 0 || r.Averages != (coloc.Averages{}) {
			t.Errorf("region %s should be empty, got %+v", r.Name, r)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	svc := NewColocService(ColocServiceConfig{YMax: 100, Threshold: 0.3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, []cells.Region{square("a", 0, 0, 5, 5)}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunProgress(t *testing.T) {
	svc := NewColocService(ColocServiceConfig{YMax: 100, Threshold: 0.3, Workers: 3})
	regions := []cells.Region{square("a", 0, 0, 5, 5), square("b", 0, 0, 5, 5), square("c", 0, 0, 5, 5)}

	var calls, last int
	_, err := svc.RunWithProgress(context.Background(), regions, nil, func(done, total int) {
		calls++
		last = done
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
	})
	if err != nil {
		t.Fatalf("RunWithProgress: %v", err)
	}
	if calls != 3 || last != 3 {
		t.Errorf("progress calls = %d, last = %d", calls, last)
	}
}

func TestSummarize(t *testing.T) {
	reports := []coloc.Report{
		{Total: coloc.Bucket{N: 4}, Coloc: coloc.Bucket{N: 1}, Missed: coloc.Bucket{N: 3}},
		{Total: coloc.Bucket{N: 4}, Coloc: coloc.Bucket{N: 3}, Missed: coloc.Bucket{N: 1}},
		{},
	}
	s := Summarize(reports)

	if s.Regions != 3 || s.EmptyRegions != 1 {
		t.Errorf("regions = %d, empty = %d", s.Regions, s.EmptyRegions)
	}
	if s.Spots != 8 || s.Coloc != 4 || s.Missed != 4 {
		t.Errorf("totals = %d/%d/%d", s.Spots, s.Coloc, s.Missed)
	}
	if s.MeanFraction != 0.5 || s.WeightedFraction != 0.5 {
		t.Errorf("fractions = %v / %v", s.MeanFraction, s.WeightedFraction)
	}
	// Sample standard deviation of {0.25, 0.75}.
	if want := math.Sqrt(0.125); math.Abs(s.StdFraction-want) > 1e-12 {
		t.Errorf("std = %v, want %v", s.StdFraction, want)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s != (Summary{}) {
		t.Errorf("expected zero summary, got %+v", s)
	}
}
