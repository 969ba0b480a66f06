package faults

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/plantwatch/console/internal/models"
)

// SortType picks the granularity faults are ordered by.
type SortType string

const (
	SortByDate  SortType = "date"
	SortByMonth SortType = "month"
	SortByYear  SortType = "year"
)

type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

func ParseSortType(s string) (SortType, error) {
	switch t := SortType(s); t {
	case SortByDate, SortByMonth, SortByYear:
		return t, nil
	}
	return "", fmt.Errorf("faults: unknown sort type %q", s)
}

func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(s); o {
	case Ascending, Descending:
		return o, nil
	}
	return "", fmt.Errorf("faults: unknown sort order %q", s)
}

// compareTimes returns the comparator for a sort type. Month compares
// year then month; year compares year only.
func compareTimes(st SortType) func(a, b time.Time) int {
	switch st {
	case SortByMonth:
		return func(a, b time.Time) int {
			return cmp.Compare(a.Year()*12+int(a.Month()), b.Year()*12+int(b.Month()))
		}
	case SortByYear:
		return func(a, b time.Time) int {
			return cmp.Compare(a.Year(), b.Year())
		}
	default:
		return func(a, b time.Time) int { return a.Compare(b) }
	}
}

// sortStable orders xs in place by fault time. Records with equal keys keep
// their input order in either direction.
func sortStable[T any](xs []T, fault func(T) models.Fault, st SortType, so SortOrder) {
	compare := compareTimes(st)
	slices.SortStableFunc(xs, func(a, b T) int {
		c := compare(fault(a).FaultTime.Time, fault(b).FaultTime.Time)
		if so == Descending {
			return -c
		}
		return c
	})
}

// Sort returns a sorted copy of faults. The input is not modified.
func Sort(faults []models.Fault, st SortType, so SortOrder) []models.Fault {
	out := make([]models.Fault, len(faults))
	copy(out, faults)
	sortStable(out, func(f models.Fault) models.Fault { return f }, st, so)
	return out
}
