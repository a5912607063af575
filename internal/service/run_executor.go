package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/soma-tiles/spotcoloc/internal/cache"
	"github.com/soma-tiles/spotcoloc/internal/coloc"
	"github.com/soma-tiles/spotcoloc/internal/data/cells"
	"github.com/soma-tiles/spotcoloc/internal/data/spots"
	"github.com/soma-tiles/spotcoloc/internal/runstore"
)

// Inputs holds the parsed inputs of a run.
type Inputs struct {
	Regions []cells.Region
	Spots   []coloc.Spot
}

// ParseInputs decodes raw cell and spot files. cellsName prefixes region
// names.
func ParseInputs(cellsData, spotsData []byte, cellsName string) (*Inputs, error) {
	cellRes, err := cells.Read(bytes.NewReader(cellsData), cellsName)
	if err != nil {
		return nil, err
	}
	spotRes, err := spots.Read(bytes.NewReader(spotsData))
	if err != nil {
		return nil, err
	}
	if cellRes.Skipped > 0 || spotRes.Skipped > 0 {
		log.Printf("[Inputs] %s: skipped %d malformed cell lines, %d malformed spot lines",
			cellsName, cellRes.Skipped, spotRes.Skipped)
	}
	return &Inputs{Regions: cellRes.Regions, Spots: spotRes.Spots}, nil
}

// RunResult is the serialized outcome of a run, as cached and served.
type RunResult struct {
	Reports []coloc.Report `json:"cells"`
	Summary Summary        `json:"summary"`
}

// RunExecutor executes stored runs.
type RunExecutor struct {
	workers int
	cache   *cache.Manager
}

// NewRunExecutor creates an executor. cache may be nil.
func NewRunExecutor(workers int, cacheManager *cache.Manager) *RunExecutor {
	return &RunExecutor{workers: workers, cache: cacheManager}
}

// Execute loads a run's inputs from the store, processes every region and
// stores the per-cell results. Results of identical inputs are reused from
// the cache.
func (e *RunExecutor) Execute(ctx context.Context, store *runstore.Store, runID string) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	cellsData, spotsData, err := store.LoadInputs(runID)
	if err != nil {
		return err
	}
	in, err := ParseInputs(cellsData, spotsData, run.Params.CellsName)
	if err != nil {
		return err
	}
	if err := store.UpdateRunCounts(runID, len(in.Regions), len(in.Spots)); err != nil {
		return err
	}

	reports, ok := e.cachedReports(run.Params.InputKey)
	if !ok {
		svc := NewColocService(ColocServiceConfig{
			YMax:      run.Params.YMax,
			Threshold: run.Params.Threshold,
			Workers:   e.workers,
		})
		reports, err = svc.RunWithProgress(ctx, in.Regions, in.Spots, func(done, total int) {
			if err := store.UpdateRunProgress(runID, done, total); err != nil {
				log.Printf("[RunExecutor] run %s: failed to update progress: %v", runID, err)
			}
		})
		if err != nil {
			return err
		}
		e.storeReports(run.Params.InputKey, reports)
	} else {
		log.Printf("[RunExecutor] run %s: reusing cached result", runID)
		if err := store.UpdateRunProgress(runID, len(reports), len(reports)); err != nil {
			log.Printf("[RunExecutor] run %s: failed to update progress: %v", runID, err)
		}
	}

	return store.InsertResults(runID, reports)
}

func (e *RunExecutor) cachedReports(key string) ([]coloc.Report, bool) {
	if e.cache == nil || key == "" {
		return nil, false
	}
	data, ok := e.cache.GetResult(key)
	if !ok {
		return nil, false
	}
	var res RunResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	return res.Reports, true
}

func (e *RunExecutor) storeReports(key string, reports []coloc.Report) {
	if e.cache == nil || key == "" {
		return
	}
	data, err := json.Marshal(RunResult{Reports: reports, Summary: Summarize(reports)})
	if err != nil {
		log.Printf("[RunExecutor] failed to encode result for cache: %v", err)
		return
	}
	e.cache.SetResult(key, data)
}
