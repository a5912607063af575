// Package service provides the analysis logic shared by the CLI and the server.
package service

import (
	"context"
	"log"
	"sync"

	"github.com/soma-tiles/spotcoloc/internal/coloc"
	"github.com/soma-tiles/spotcoloc/internal/data/cells"
	"github.com/soma-tiles/spotcoloc/internal/geom"
)

// ColocServiceConfig contains the analysis parameters.
type ColocServiceConfig struct {
	YMax      int     // scanlines in each edge map
	Threshold float64 // colocalization fraction threshold
	Workers   int     // regions processed concurrently (default 1)
}

// ColocService assigns spots to cells and aggregates them per cell.
type ColocService struct {
	ymax      int
	threshold float64
	workers   int
}

// NewColocService creates a new analysis service.
func NewColocService(cfg ColocServiceConfig) *ColocService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &ColocService{
		ymax:      cfg.YMax,
		threshold: cfg.Threshold,
		workers:   workers,
	}
}

// ProgressFunc is called after each finished region with the number of
// regions done so far.
type ProgressFunc func(done, total int)

// Run processes every region against the full spot list and returns one
// report per region, in region order. A spot inside several regions is
// counted in each of them. spots is only read.
func (s *ColocService) Run(ctx context.Context, regions []cells.Region, spots []coloc.Spot) ([]coloc.Report, error) {
	return s.RunWithProgress(ctx, regions, spots, nil)
}

// RunWithProgress is Run with a progress callback. progress may be called
// from several goroutines but never concurrently.
func (s *ColocService) RunWithProgress(ctx context.Context, regions []cells.Region, spots []coloc.Spot, progress ProgressFunc) ([]coloc.Report, error) {
	reports := make([]coloc.Report, len(regions))
	if len(regions) == 0 {
		return reports, nil
	}

	queue := make(chan int)
	var (
		wg     sync.WaitGroup
		progMu sync.Mutex
		done   int
	)

	workers := min(s.workers, len(regions))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				// Each region writes only its own slot.
				reports[idx] = s.ProcessRegion(regions[idx], spots)

				if progress != nil {
					progMu.Lock()
					done++
					progress(done, len(regions))
					progMu.Unlock()
				}
			}
		}()
	}

	var err error
feed:
	for i := range regions {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case queue <- i:
		}
	}
	close(queue)
	wg.Wait()

	if err != nil {
		return nil, err
	}
	return reports, nil
}

// ProcessRegion builds the region's edge map and aggregates every spot that
// falls inside it. A region whose outline cannot form a polygon yields an
// empty report.
func (s *ColocService) ProcessRegion(region cells.Region, spots []coloc.Spot) coloc.Report {
	agg := coloc.NewAggregator(region.Name, s.threshold)

	edges, err := s.edgeMap(region)
	if err != nil {
		log.Printf("[ColocService] region %s: %v; reporting it empty", region.Name, err)
	} else {
		for _, spot := range spots {
			if edges.Contains(spot.X, spot.Y) {
				agg.AddLine(spot)
			}
		}
	}

	report := agg.Report()
	report.Label = region.Label
	return report
}

func (s *ColocService) edgeMap(region cells.Region) (*geom.EdgeMap, error) {
	poly, err := region.Polygon()
	if err != nil {
		return nil, err
	}
	return geom.NewEdgeMap(poly, s.ymax)
}
