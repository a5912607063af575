package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soma-tiles/spotcoloc/internal/coloc"
)

func sampleReports() []coloc.Report {
	a := coloc.NewAggregator("cells.txt:cell0", 0.3)
	a.AddLine(coloc.ParseSpot("0,1,1,10,100,0,0,0,0.9,ok"))
	a.AddLine(coloc.ParseSpot("1,2,2,20,50,0,0,0,0.1,ok"))
	b := coloc.NewAggregator("cells.txt:cell1", 0.3)
	return []coloc.Report{a.Report(), b.Report()}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Summary, sampleReports()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := "Name,TotalSpots,NumColoc,NumMissed,MassColoc,MassMissed\n" +
		"cells.txt:cell0,2,1,1,100,50\n" +
		"cells.txt:cell1,0,0,0,0,0\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteFull(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Full, sampleReports()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != coloc.FullHeader() {
		t.Errorf("header = %q", lines[0])
	}
	if got := strings.Count(lines[1], ","); got != strings.Count(coloc.FullHeader(), ",") {
		t.Errorf("line has %d separators, header has %d", got, strings.Count(coloc.FullHeader(), ","))
	}
}

func TestAppendFileKeepsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	if err := os.WriteFile(path, []byte("previous run\n"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := AppendFile(path, Summary, sampleReports()); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	if err := AppendFile(path, Summary, sampleReports()[:1]); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "previous run\n") {
		t.Error("existing content was not preserved")
	}
	if n := strings.Count(content, coloc.ReportHeader()); n != 2 {
		t.Errorf("expected a header per run, found %d", n)
	}
	if n := strings.Count(content, "cells.txt:cell0,"); n != 2 {
		t.Errorf("expected cell0 twice, found %d", n)
	}
}
