// Package coloc aggregates spot measurements per cell, splitting them into
// colocalized and missed spots by a fraction threshold.
package coloc

import (
	"strconv"
	"strings"
)

// MinFields is the minimum number of fields of a usable spot record.
const MinFields = 10

// Field positions in a spot record:
// spotNum,x0,y0,pixels,sum,maxPixels,pixelsHit,pixelsMissed,fractColoc,tag
const (
	FieldSpotNum      = 0
	FieldX            = 1
	FieldY            = 2
	FieldPixels       = 3
	FieldSum          = 4
	FieldMaxPixels    = 5
	FieldPixelsHit    = 6
	FieldPixelsMissed = 7
	FieldFractColoc   = 8
	FieldTag          = 9
)

// Spot is one spot measurement. Fields holds the raw record; the numeric
// fields used by the aggregation are parsed once.
type Spot struct {
	Fields    []string
	X         float64
	Y         float64
	Pixels    float64
	Intensity float64
	Fraction  float64
}

// NewSpot parses a split record. Numeric fields that do not parse count as 0.
// Records shorter than MinFields keep their raw fields but are ignored by the
// aggregator.
func NewSpot(fields []string) Spot {
	s := Spot{Fields: fields}
	s.X = fieldFloat(fields, FieldX)
	s.Y = fieldFloat(fields, FieldY)
	s.Pixels = fieldFloat(fields, FieldPixels)
	s.Intensity = fieldFloat(fields, FieldSum)
	s.Fraction = fieldFloat(fields, FieldFractColoc)
	return s
}

// ParseSpot splits a comma-separated line and parses it.
func ParseSpot(line string) Spot {
	return NewSpot(strings.Split(line, ","))
}

// Valid reports whether the record has enough fields to be aggregated.
func (s Spot) Valid() bool {
	return len(s.Fields) >= MinFields
}

// Tag returns the trailing tag field, trimmed.
func (s Spot) Tag() string {
	if len(s.Fields) <= FieldTag {
		return ""
	}
	return strings.TrimSpace(s.Fields[FieldTag])
}

func fieldFloat(fields []string, i int) float64 {
	if i >= len(fields) {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
	if err != nil {
		return 0
	}
	return v
}
