package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mjhen/rosterbridge/internal/grid"
)

var errEmptyNumber = errors.New("empty number")

// ParseNumber reads a numeric cell, tolerating thousands separators and a
// trailing percent sign.
func ParseNumber(value string) (float64, error) {
	v := grid.CleanCell(value)
	v = strings.TrimSuffix(v, "%")
	v = strings.ReplaceAll(v, ",", "")
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errEmptyNumber
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", value)
	}
	return n, nil
}

// LetterFromPercent maps a percentage onto the A-F scale.
func LetterFromPercent(pct float64) string {
	switch {
	case pct >= 90:
		return "A"
	case pct >= 80:
		return "B"
	case pct >= 70:
		return "C"
	case pct >= 60:
		return "D"
	}
	return "F"
}

// NormalizeLetter upper-cases a letter grade and keeps its +/- modifier.
func NormalizeLetter(value string) string {
	v := strings.ToUpper(grid.CleanCell(value))
	if v == "" || len(v) > 2 {
		return ""
	}
	switch v[0] {
	case 'A', 'B', 'C', 'D', 'F', 'E', 'I', 'P', 'S', 'U', 'N':
	default:
		return ""
	}
	if len(v) == 2 && v[1] != '+' && v[1] != '-' {
		return ""
	}
	return v
}
