package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soma-tiles/spotcoloc/internal/cache"
	"github.com/soma-tiles/spotcoloc/internal/data/source"
	"github.com/soma-tiles/spotcoloc/internal/render"
	"github.com/soma-tiles/spotcoloc/internal/report"
	"github.com/soma-tiles/spotcoloc/internal/runstore"
	"github.com/soma-tiles/spotcoloc/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	RunManager  *RunManager
	Cache       *cache.Manager // optional
	Renderer    *render.OverlayRenderer
	CORSOrigins []string

	// Defaults for submissions that omit them.
	YMax      int
	Threshold float64
	Columns   report.Columns

	MaxUploadMB int
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 64
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", runSubmitHandler(cfg))
		r.Get("/", runListHandler(cfg.RunManager))
		r.Get("/{run_id}", runStatusHandler(cfg.RunManager))
		r.Get("/{run_id}/result", runResultHandler(cfg.RunManager, cfg.Columns))
		r.Get("/{run_id}/overlay.png", runOverlayHandler(cfg))
		r.Delete("/{run_id}", runDeleteHandler(cfg.RunManager))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// readUpload returns the decoded content and file name of a multipart file.
func readUpload(r *http.Request, field string) ([]byte, string, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("missing file %q", field)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("reading %q: %w", field, err)
	}
	data, err := source.ReadAll(raw)
	if err != nil {
		return nil, "", fmt.Errorf("decoding %q: %w", field, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", fmt.Errorf("file %q is empty", field)
	}
	return data, filepath.Base(hdr.Filename), nil
}

func runSubmitHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := cfg.RunManager
		if rm == nil {
			http.Error(w, "run manager not configured", http.StatusNotImplemented)
			return
		}

		maxBytes := int64(cfg.MaxUploadMB) << 20
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "upload exceeds "+strconv.Itoa(cfg.MaxUploadMB)+" MB", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}

		cellsData, cellsName, err := readUpload(r, "cells")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		spotsData, _, err := readUpload(r, "spots")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := runstore.RunParams{
			Name:      strings.TrimSpace(r.FormValue("name")),
			CellsName: cellsName,
			YMax:      cfg.YMax,
			Threshold: cfg.Threshold,
		}
		if params.Name == "" {
			params.Name = strings.TrimSuffix(cellsName, filepath.Ext(cellsName))
		}
		if s := r.FormValue("ymax"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v <= 0 {
				http.Error(w, "ymax must be a positive integer", http.StatusBadRequest)
				return
			}
			params.YMax = v
		}
		if s := r.FormValue("threshold"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				http.Error(w, "threshold must be a finite number", http.StatusBadRequest)
				return
			}
			params.Threshold = v
		}
		params.InputKey = cache.InputKey(params.CellsName, cellsData, spotsData, params.YMax, params.Threshold)

		run, err := rm.Submit(params, cellsData, spotsData)
		if errors.Is(err, ErrQueueFull) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(w, "failed to create run: "+err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, run)
	}
}

func runListHandler(rm *RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rm == nil {
			http.Error(w, "run manager not configured", http.StatusNotImplemented)
			return
		}

		limit := 50
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if v, err := strconv.Atoi(limitStr); err == nil && v > 0 && v <= 1000 {
				limit = v
			}
		}

		runs, err := rm.Store().ListRuns(limit)
		if err != nil {
			http.Error(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []*runstore.Run{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
	}
}

func runStatusHandler(rm *RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rm == nil {
			http.Error(w, "run manager not configured", http.StatusNotImplemented)
			return
		}

		run := rm.Get(chi.URLParam(r, "run_id"))
		if run == nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func runResultHandler(rm *RunManager, cols report.Columns) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rm == nil {
			http.Error(w, "run manager not configured", http.StatusNotImplemented)
			return
		}

		run := rm.Get(chi.URLParam(r, "run_id"))
		if run == nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if run.Status != runstore.RunStatusCompleted {
			http.Error(w, "run not completed (status: "+string(run.Status)+")", http.StatusConflict)
			return
		}

		reports, err := rm.Store().QueryResults(run.ID)
		if err != nil {
			http.Error(w, "failed to load results: "+err.Error(), http.StatusInternalServerError)
			return
		}

		switch format := r.URL.Query().Get("format"); format {
		case "", "csv":
			layout := cols
			if c := report.Columns(r.URL.Query().Get("columns")); c == report.Summary || c == report.Full {
				layout = c
			}
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.Params.Name+".csv"))
			if err := report.Write(w, layout, reports); err != nil {
				log.Printf("[API] run %s: writing csv: %v", run.ID, err)
			}
		case "json":
			writeJSON(w, http.StatusOK, service.RunResult{
				Reports: reports,
				Summary: service.Summarize(reports),
			})
		default:
			http.Error(w, "unknown format: "+format, http.StatusBadRequest)
		}
	}
}

func runOverlayHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := cfg.RunManager
		if rm == nil || cfg.Renderer == nil {
			http.Error(w, "overlay rendering not configured", http.StatusNotImplemented)
			return
		}

		run := rm.Get(chi.URLParam(r, "run_id"))
		if run == nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}

		key := cache.OverlayKey(run.ID, cfg.Renderer.Size())
		if cfg.Cache != nil {
			if data, ok := cfg.Cache.GetOverlay(key); ok {
				w.Header().Set("Content-Type", "image/png")
				w.Header().Set("X-Cache", "HIT")
				w.Write(data)
				return
			}
		}

		cellsData, spotsData, err := rm.Store().LoadInputs(run.ID)
		if err != nil {
			http.Error(w, "failed to load inputs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		in, err := service.ParseInputs(cellsData, spotsData, run.Params.CellsName)
		if err != nil {
			http.Error(w, "failed to parse inputs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		data, err := cfg.Renderer.RenderOverlay(in.Regions, in.Spots, run.Params.Threshold, run.Params.YMax)
		if err != nil {
			http.Error(w, "failed to render overlay: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cfg.Cache != nil {
			if err := cfg.Cache.SetOverlay(key, data); err != nil {
				log.Printf("[API] run %s: caching overlay: %v", run.ID, err)
			}
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Cache", "MISS")
		w.Write(data)
	}
}

// runDeleteHandler cancels an active run, or deletes a finished one.
func runDeleteHandler(rm *RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rm == nil {
			http.Error(w, "run manager not configured", http.StatusNotImplemented)
			return
		}

		runID := chi.URLParam(r, "run_id")
		run := rm.Get(runID)
		if run == nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}

		if !run.Status.Finished() {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"run_id":    runID,
				"cancelled": rm.Cancel(runID),
			})
			return
		}

		if err := rm.Delete(runID); err != nil {
			http.Error(w, "failed to delete run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"run_id":  runID,
			"deleted": true,
		})
	}
}
