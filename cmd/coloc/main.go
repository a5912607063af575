// Command coloc counts spots per cell and reports how many colocalize.
//
// Usage:
//
//	coloc [flags] <cells.txt> <spots.dat> <results.csv>
//
// One report line per cell is appended to results.csv.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/soma-tiles/spotcoloc/internal/config"
	"github.com/soma-tiles/spotcoloc/internal/data/cells"
	"github.com/soma-tiles/spotcoloc/internal/data/spots"
	"github.com/soma-tiles/spotcoloc/internal/render"
	"github.com/soma-tiles/spotcoloc/internal/report"
	"github.com/soma-tiles/spotcoloc/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("coloc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config/coloc.yaml", "Path to configuration file")
	overlayPath := fs.String("overlay", "", "Write a PNG overlay of cells and spots to this path")
	ymax := fs.Int("ymax", 0, "Image height in pixels (overrides analysis.ymax)")
	threshold := fs.Float64("threshold", 0, "Colocalization threshold (overrides analysis.coloc_threshold)")
	workers := fs.Int("workers", 0, "Regions processed in parallel (overrides analysis.workers)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: coloc [flags] <cells.txt> <spots.dat> <results.csv>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return 2
	}
	cellsPath, spotsPath, outPath := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ymax":
			cfg.Analysis.YMax = *ymax
		case "threshold":
			cfg.Analysis.ColocThreshold = *threshold
		case "workers":
			cfg.Analysis.Workers = *workers
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 2
	}

	cellRes, err := cells.ReadFile(cellsPath)
	if err != nil {
		log.Printf("Failed to read cells: %v", err)
		return 1
	}
	spotRes, err := spots.ReadFile(spotsPath)
	if err != nil {
		log.Printf("Failed to read spots: %v", err)
		return 1
	}
	if cellRes.Skipped > 0 {
		log.Printf("[Coloc] %s: skipped %d malformed lines", cellsPath, cellRes.Skipped)
	}
	if spotRes.Skipped > 0 {
		log.Printf("[Coloc] %s: skipped %d malformed lines", spotsPath, spotRes.Skipped)
	}

	svc := service.NewColocService(service.ColocServiceConfig{
		YMax:      cfg.Analysis.YMax,
		Threshold: cfg.Analysis.ColocThreshold,
		Workers:   cfg.Analysis.Workers,
	})
	reports, err := svc.Run(ctx, cellRes.Regions, spotRes.Spots)
	if err != nil {
		log.Printf("Analysis failed: %v", err)
		return 1
	}

	if err := report.AppendFile(outPath, report.Columns(cfg.Output.Columns), reports); err != nil {
		log.Printf("Failed to write report: %v", err)
		return 1
	}

	if *overlayPath != "" {
		if err := writeOverlay(*overlayPath, cfg, cellRes.Regions, spotRes); err != nil {
			log.Printf("Failed to write overlay: %v", err)
			return 1
		}
	}

	sum := service.Summarize(reports)
	log.Printf("[Coloc] %d regions (%d empty), %d spots: %d coloc, %d missed, mean coloc fraction %.3f (sd %.3f)",
		sum.Regions, sum.EmptyRegions, sum.Spots, sum.Coloc, sum.Missed, sum.MeanFraction, sum.StdFraction)
	return 0
}

func writeOverlay(path string, cfg *config.Config, regions []cells.Region, spotRes *spots.Result) error {
	renderer, err := render.NewOverlayRenderer(render.Config{
		Size:         cfg.Render.Size,
		SpotRadius:   cfg.Render.SpotRadius,
		OutlineWidth: cfg.Render.OutlineWidth,
		Colormap:     cfg.Render.Colormap,
	})
	if err != nil {
		return err
	}
	data, err := renderer.RenderOverlay(regions, spotRes.Spots, cfg.Analysis.ColocThreshold, cfg.Analysis.YMax)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
