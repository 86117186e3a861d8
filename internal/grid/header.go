package grid

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxScanRows bounds how far into a file the header locator looks.
const MaxScanRows = 20

var ErrNoHeaderFound = errors.New("no header row found")

// Predicate decides whether a row of cleaned cells is the header row.
type Predicate func(cells []string) bool

// Locate returns the index and cleaned labels of the first row within the
// scan window that satisfies pred. A non-positive or oversized maxScanRows is
// clamped to MaxScanRows.
func Locate(g Grid, pred Predicate, maxScanRows int) (int, []string, error) {
	if maxScanRows <= 0 || maxScanRows > MaxScanRows {
		maxScanRows = MaxScanRows
	}
	limit := maxScanRows
	if len(g) < limit {
		limit = len(g)
	}
	for i := 0; i < limit; i++ {
		cells := CleanRow(g[i])
		if pred(cells) {
			return i, cells, nil
		}
	}
	return -1, nil, fmt.Errorf("%w in first %d rows", ErrNoHeaderFound, limit)
}

// AnyCell returns a predicate satisfied when at least one cell matches re.
func AnyCell(re *regexp.Regexp) Predicate {
	return func(cells []string) bool {
		for _, cell := range cells {
			if cell != "" && re.MatchString(cell) {
				return true
			}
		}
		return false
	}
}

// All combines predicates with logical AND.
func All(preds ...Predicate) Predicate {
	return func(cells []string) bool {
		for _, p := range preds {
			if !p(cells) {
				return false
			}
		}
		return true
	}
}

// AnyOf combines predicates with logical OR.
func AnyOf(preds ...Predicate) Predicate {
	return func(cells []string) bool {
		for _, p := range preds {
			if p(cells) {
				return true
			}
		}
		return false
	}
}

// ContainsAll is the common "every pattern matches some cell" predicate.
func ContainsAll(patterns ...*regexp.Regexp) Predicate {
	preds := make([]Predicate, len(patterns))
	for i, re := range patterns {
		preds[i] = AnyCell(re)
	}
	return All(preds...)
}
