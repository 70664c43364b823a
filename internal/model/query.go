package model

import (
	"fmt"
	"time"
)

type StatusFilter string

const (
	StatusAll     StatusFilter = "all"
	StatusSuccess StatusFilter = "success"
	StatusError   StatusFilter = "error"
)

func ParseStatusFilter(s string) (StatusFilter, error) {
	switch StatusFilter(s) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusSuccess, StatusError:
		return StatusFilter(s), nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

// RunsQuery selects a page of root runs. Zero values mean "no filter".
type RunsQuery struct {
	// Exact session name.
	SessionName string
	// Case-insensitive substring of the session name.
	SessionNameFilter string
	Status            StatusFilter
	// Case-insensitive substrings of the JSON encoded inputs and outputs.
	InputsFilter  string
	OutputsFilter string
	// End of the lookback window. When nil the window ends now.
	StartDate *time.Time
	// Resolved window bounds, set by ResolveWindow: From < start_time <= To. A nil To is unbounded.
	From time.Time
	To   *time.Time
	// Exclusive cursor on Run.Id. Zero means no cursor.
	StartId int64
	// When set, return runs newer than StartId instead of older.
	IsGetNewest bool
	// Page size, already resolved by the caller.
	Limit int
}

// RunsPage is one page of runs plus the number of runs matching the filters, ignoring the cursor and limit.
type RunsPage struct {
	Runs          []*Run
	TotalRowCount int64
}

// Window returns the bounds of the lookback window: start times must satisfy from < t <= to.
// When StartDate is nil the upper bound is open and to is nil.
func (q *RunsQuery) Window(now time.Time, lookback time.Duration) (from time.Time, to *time.Time) {
	if q.StartDate != nil {
		end := *q.StartDate
		return end.Add(-lookback), &end
	}
	return now.Add(-lookback), nil
}

// ResolveWindow sets From and To from StartDate.
func (q *RunsQuery) ResolveWindow(now time.Time, lookback time.Duration) {
	q.From, q.To = q.Window(now, lookback)
}
