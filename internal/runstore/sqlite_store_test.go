package runstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/soma-tiles/spotcoloc/internal/coloc"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "db", "runs.sqlite"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newRun(id string) *Run {
	return &Run{
		ID:     id,
		Status: RunStatusQueued,
		Params: RunParams{
			Name:      "tip47a",
			CellsName: "tip47a.txt",
			YMax:      2048,
			Threshold: 0.3,
		},
		CreatedAt: time.Now(),
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	cells := []byte("a 0 0\na 10 0\na 10 10\n")
	spots := []byte("0,5,5,1,1,0,0,0,0.5,ok\n")

	if err := s.CreateRun(newRun("r1"), cells, spots); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run, err := s.GetRun("r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil {
		t.Fatal("expected run")
	}
	if run.Status != RunStatusQueued || run.Params.CellsName != "tip47a.txt" || run.Params.Threshold != 0.3 {
		t.Errorf("unexpected run: %+v", run)
	}

	gotCells, gotSpots, err := s.LoadInputs("r1")
	if err != nil {
		t.Fatalf("LoadInputs: %v", err)
	}
	if string(gotCells) != string(cells) || string(gotSpots) != string(spots) {
		t.Errorf("inputs changed: %q / %q", gotCells, gotSpots)
	}

	missing, err := s.GetRun("nope")
	if err != nil || missing != nil {
		t.Errorf("GetRun(nope) = %v, %v", missing, err)
	}
	if _, _, err := s.LoadInputs("nope"); err == nil {
		t.Error("expected error loading inputs of a missing run")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateRun(newRun("r1"), nil, nil); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.UpdateRunStarted("r1"); err != nil {
		t.Fatalf("UpdateRunStarted: %v", err)
	}
	if err := s.UpdateRunCounts("r1", 3, 120); err != nil {
		t.Fatalf("UpdateRunCounts: %v", err)
	}
	if err := s.UpdateRunProgress("r1", 2, 3); err != nil {
		t.Fatalf("UpdateRunProgress: %v", err)
	}

	run, _ := s.GetRun("r1")
	if run.Status != RunStatusRunning || run.StartedAt == nil {
		t.Errorf("expected running with start time, got %+v", run)
	}
	if run.NRegions != 3 || run.NSpots != 120 || run.Progress.Done != 2 {
		t.Errorf("unexpected counts: %+v", run)
	}

	if err := s.UpdateRunStatus("r1", RunStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	run, _ = s.GetRun("r1")
	if run.Status != RunStatusCompleted || run.FinishedAt == nil {
		t.Errorf("expected completed with finish time, got %+v", run)
	}
}

func TestResultsKeepOrder(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateRun(newRun("r1"), nil, nil); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	var reports []coloc.Report
	for _, name := range []string{"f:cell0", "f:cell1", "f:cell2"} {
		a := coloc.NewAggregator(name, 0.3)
		a.AddLine(coloc.ParseSpot("0,1,1,10,100,0,0,0,0.9,ok"))
		a.AddLine(coloc.ParseSpot("0,1,1,30,300,0,0,0,0.1,ok"))
		r := a.Report()
		r.Label = "lbl"
		reports = append(reports, r)
	}
	if err := s.InsertResults("r1", reports); err != nil {
		t.Fatalf("InsertResults: %v", err)
	}

	got, err := s.QueryResults("r1")
	if err != nil {
		t.Fatalf("QueryResults: %v", err)
	}
	if len(got) != len(reports) {
		t.Fatalf("expected %d results, got %d", len(reports), len(got))
	}
	for i := range got {
		if got[i] != reports[i] {
			t.Errorf("result %d = %+v, want %+v", i, got[i], reports[i])
		}
	}
}

func TestRecoveryAndCleanup(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"queued", "running", "old"} {
		if err := s.CreateRun(newRun(id), nil, nil); err != nil {
			t.Fatalf("CreateRun(%s): %v", id, err)
		}
	}
	s.UpdateRunStarted("running")
	s.UpdateRunStatus("old", RunStatusCompleted, "")

	if err := s.MarkRunningAsFailed("server restarted"); err != nil {
		t.Fatalf("MarkRunningAsFailed: %v", err)
	}
	run, _ := s.GetRun("running")
	if run.Status != RunStatusFailed || run.Error != "server restarted" {
		t.Errorf("unexpected recovered run: %+v", run)
	}

	queued, err := s.ListQueuedRuns()
	if err != nil {
		t.Fatalf("ListQueuedRuns: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "queued" {
		t.Errorf("unexpected queued runs: %v", queued)
	}

	// A negative retention puts the cutoff in the future.
	deleted, err := s.DeleteExpiredRuns(-1)
	if err != nil {
		t.Fatalf("DeleteExpiredRuns: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 finished runs deleted, got %d", deleted)
	}

	all, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 1 || all[0].ID != "queued" {
		t.Errorf("unexpected remaining runs: %v", all)
	}

	if err := s.DeleteRun("queued"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if run, _ := s.GetRun("queued"); run != nil {
		t.Error("run should be deleted")
	}
}

func TestStartOnlyQueuedRuns(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateRun(newRun("r1"), nil, nil); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.UpdateRunStatus("r1", RunStatusCancelled, "cancelled before start"); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	if err := s.UpdateRunStarted("r1"); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("UpdateRunStarted = %v, want ErrNotQueued", err)
	}
	run, _ := s.GetRun("r1")
	if run.Status != RunStatusCancelled || run.StartedAt != nil {
		t.Errorf("cancelled run was started: %+v", run)
	}
}
