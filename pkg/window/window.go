// Package window resolves which slice of the source dataset a sync run
// must (re)fetch: since the destination watermark, one explicit day,
// month or year, or a full refresh chunked by key range.
package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ERR_INVALID_DAY   = "error invalid day, expected YYYY-MM-DD"
	ERR_INVALID_MONTH = "error invalid month, expected YYYY-MM"
	ERR_INVALID_YEAR  = "error invalid year, expected YYYY between 2000 and 2099"
	ERR_INVALID_WIDTH = "error key range width must be positive"
)

var (
	ErrInvalidDay   = errors.New(ERR_INVALID_DAY)
	ErrInvalidMonth = errors.New(ERR_INVALID_MONTH)
	ErrInvalidYear  = errors.New(ERR_INVALID_YEAR)
	ErrInvalidWidth = errors.New(ERR_INVALID_WIDTH)
)

// DefaultDateColumn selects cases by last modification. CreatedDate is an
// alternative for full refreshes.
const DefaultDateColumn = "LastModifiedDate"

// Window is a half-open [Start, End) time range over the source query's
// date column. A zero End means unbounded above.
type Window struct {
	Start time.Time
	End   time.Time
}

// Bounded reports whether the window has an upper bound.
func (w Window) Bounded() bool { return !w.End.IsZero() }

// Resolver builds source query windows. SourceTZ is the time zone the
// source query API expects bounds in.
type Resolver struct {
	sourceTZ *time.Location
}

func NewResolver(sourceTZ *time.Location) *Resolver {
	if sourceTZ == nil {
		sourceTZ = time.UTC
	}
	return &Resolver{sourceTZ: sourceTZ}
}

// Incremental bounds the fetch below by the destination watermark,
// exclusive, converted to the source time zone. No upper bound.
func (r *Resolver) Incremental(watermark time.Time) Window {
	return Window{Start: watermark.In(r.sourceTZ)}
}

// Day resolves one explicit calendar day, e.g. "2016-05-18".
func (r *Resolver) Day(day string) (Window, error) {
	start, err := time.ParseInLocation("2006-01-02", day, r.sourceTZ)
	if err != nil {
		return Window{}, ErrInvalidDay
	}
	return Window{Start: start, End: start.AddDate(0, 0, 1)}, nil
}

// Month resolves one explicit month, e.g. "2017-01", rolling over year
// boundaries for December.
func (r *Resolver) Month(month string) (Window, error) {
	start, err := time.ParseInLocation("2006-01", month, r.sourceTZ)
	if err != nil {
		return Window{}, ErrInvalidMonth
	}
	if err := realisticYear(start.Year()); err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// Year resolves one explicit year, e.g. "2017".
func (r *Resolver) Year(year string) (Window, error) {
	start, err := time.ParseInLocation("2006", year, r.sourceTZ)
	if err != nil {
		return Window{}, ErrInvalidYear
	}
	if err := realisticYear(start.Year()); err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: start.AddDate(1, 0, 0)}, nil
}

func realisticYear(y int) error {
	if y < 2000 || y > 2099 {
		return ErrInvalidYear
	}
	return nil
}

// Predicate renders the window as a source query fragment to append to
// the base WHERE clause. Incremental windows use a strict lower bound;
// explicit windows are inclusive below, exclusive above. The output
// carries no newlines or doubled whitespace; the remote API mishandles
// long queries containing raw newlines.
func (w Window) Predicate(dateColumn string) string {
	if dateColumn == "" {
		dateColumn = DefaultDateColumn
	}
	var b strings.Builder
	if w.Bounded() {
		fmt.Fprintf(&b, " AND (%s >= %s)", dateColumn, w.Start.Format(time.RFC3339))
		fmt.Fprintf(&b, " AND (%s < %s)", dateColumn, w.End.Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, " AND (%s > %s)", dateColumn, w.Start.Format(time.RFC3339))
	}
	return Collapse(b.String())
}

// Collapse removes newlines and doubled whitespace from a query string.
func Collapse(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// DefaultKeyWidth is the key-range chunk width of a full refresh.
const DefaultKeyWidth = 100000

// KeyRange is a half-open numeric primary-key range [Start, End).
type KeyRange struct {
	Start int64
	End   int64
}

// Predicate renders the key range as a source query fragment over the
// numeric case-number key.
func (kr KeyRange) Predicate(keyColumn string) string {
	return fmt.Sprintf("AND (%s >= %d) AND (%s < %d)", keyColumn, kr.Start, keyColumn, kr.End)
}

// KeyRanges chunks a full refresh into fixed-width primary-key ranges
// covering [0, maxKey]. A single unbounded query against millions of rows
// risks source-side timeout.
func KeyRanges(maxKey, width int64) ([]KeyRange, error) {
	if width <= 0 {
		return nil, ErrInvalidWidth
	}
	var out []KeyRange
	for start := int64(0); start <= maxKey; start += width {
		out = append(out, KeyRange{Start: start, End: start + width})
	}
	return out, nil
}
