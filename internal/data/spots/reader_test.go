package spots

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const spotFile = `#spotNum,x0,y0,pixels,sum,maxPixels,pixelsHit,pixelsMissed,fractColoc,tag
0,1258.04,20.5926,27,14618,652,0,27,0, accepted
1,12.5,30.1,13,5000,400,10,3,0.77, accepted
2,1,2,3
3,40,41,9,900,100,9,0,1.0, rejected
`

func TestRead(t *testing.T) {
	res, err := Read(strings.NewReader(spotFile))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(res.Spots) != 3 {
		t.Fatalf("expected 3 spots, got %d", len(res.Spots))
	}
	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped line, got %d", res.Skipped)
	}

	s := res.Spots[1]
	if s.X != 12.5 || s.Y != 30.1 || s.Pixels != 13 || s.Intensity != 5000 || s.Fraction != 0.77 {
		t.Errorf("unexpected spot: %+v", s)
	}
	if res.Spots[2].Tag() != "rejected" {
		t.Errorf("Tag() = %q", res.Spots[2].Tag())
	}
}

func TestReadCRLF(t *testing.T) {
	res, err := Read(strings.NewReader("0,1,2,3,4,5,6,7,0.5,ok\r\n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(res.Spots) != 1 || res.Spots[0].Tag() != "ok" {
		t.Errorf("unexpected result %+v", res.Spots)
	}
}

func TestReadFileGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spots.dat.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := gzip.NewWriter(f)
	if _, err := w.Write([]byte(spotFile)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	res, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(res.Spots) != 3 {
		t.Errorf("expected 3 spots, got %d", len(res.Spots))
	}
}
