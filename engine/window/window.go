// Package window plans the ordered sequence of half-open time windows a run
// processes.
package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/WessleyAI/rollwin/engine/domain"
)

// Granularity is the length of one period.
type Granularity int

const (
	Yearly Granularity = iota
	Biannual
	Quarterly
	Monthly
)

func (g Granularity) String() string {
	switch g {
	case Yearly:
		return "yearly"
	case Biannual:
		return "biannual"
	case Quarterly:
		return "quarterly"
	case Monthly:
		return "monthly"
	default:
		return "unknown"
	}
}

// PeriodsPerYear returns how many periods of g fit in a calendar year.
func (g Granularity) PeriodsPerYear() int {
	switch g {
	case Biannual:
		return 2
	case Quarterly:
		return 4
	case Monthly:
		return 12
	default:
		return 1
	}
}

// letter is the short unit used in window identifiers.
func (g Granularity) letter() string {
	switch g {
	case Biannual:
		return "h"
	case Quarterly:
		return "q"
	case Monthly:
		return "m"
	default:
		return "y"
	}
}

// ParseGranularity accepts the long name, the singular noun or the unit letter.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yearly", "year", "y", "":
		return Yearly, nil
	case "biannual", "half", "h":
		return Biannual, nil
	case "quarterly", "quarter", "q":
		return Quarterly, nil
	case "monthly", "month", "m":
		return Monthly, nil
	}
	return 0, domain.Configf("window.granularity", s, "unknown granularity")
}

// Period is one sub-period of a calendar year. Sub is 1-based.
type Period struct {
	Year int
	Sub  int
}

func periodAt(g Granularity, ordinal int) Period {
	ppy := g.PeriodsPerYear()
	return Period{Year: floorDiv(ordinal, ppy), Sub: floorMod(ordinal, ppy) + 1}
}

func (p Period) ordinal(g Granularity) int {
	return p.Year*g.PeriodsPerYear() + p.Sub - 1
}

// Time returns the UTC instant at which p begins.
func (p Period) Time(g Granularity) time.Time {
	month := time.Month((p.Sub-1)*(12/g.PeriodsPerYear()) + 1)
	return time.Date(p.Year, month, 1, 0, 0, 0, 0, time.UTC)
}

// Window is a half-open interval [Start, End) in epoch milliseconds covering
// Size periods beginning at From. Values are immutable once planned.
type Window struct {
	Granularity Granularity
	From        Period
	To          Period // exclusive
	Size        int
	Start       int64
	End         int64
}

// New builds the window of size periods starting at from.
func New(g Granularity, from Period, size int) Window {
	to := periodAt(g, from.ordinal(g)+size)
	return Window{
		Granularity: g,
		From:        from,
		To:          to,
		Size:        size,
		Start:       from.Time(g).UnixMilli(),
		End:         to.Time(g).UnixMilli(),
	}
}

// StartYear is the calendar year the window begins in.
func (w Window) StartYear() int { return w.From.Year }

// EndYearInclusive is the calendar year of the window's last period.
func (w Window) EndYearInclusive() int {
	return periodAt(w.Granularity, w.To.ordinal(w.Granularity)-1).Year
}

// ID names the window deterministically, e.g. rw_2004_3y or rw_2010_q4_1q.
// Graph views and output files derive their names from it.
func (w Window) ID() string {
	unit := w.Granularity.letter()
	if w.Granularity == Yearly {
		return fmt.Sprintf("rw_%d_%d%s", w.From.Year, w.Size, unit)
	}
	return fmt.Sprintf("rw_%d_%s%d_%d%s", w.From.Year, unit, w.From.Sub, w.Size, unit)
}

func (w Window) String() string {
	return fmt.Sprintf("%s [%s, %s)", w.ID(),
		time.UnixMilli(w.Start).UTC().Format(time.DateOnly),
		time.UnixMilli(w.End).UTC().Format(time.DateOnly))
}

// Spec describes a window sequence.
type Spec struct {
	StartYear     int
	LastStartYear int
	Size          int
	Step          int
	Granularity   Granularity
}

// Plan returns the windows of spec in strictly increasing start order. The
// first window starts at period 1 of StartYear; consecutive starts differ by
// Step periods; planning stops once a start falls after LastStartYear.
func Plan(spec Spec) ([]Window, error) {
	if spec.Size <= 0 {
		return nil, domain.Configf("window.size", fmt.Sprint(spec.Size), "must be positive")
	}
	if spec.Step <= 0 {
		return nil, domain.Configf("window.step", fmt.Sprint(spec.Step), "must be positive")
	}
	if spec.LastStartYear < spec.StartYear {
		return nil, domain.Configf("window.end_start_year", fmt.Sprint(spec.LastStartYear),
			"precedes start year %d", spec.StartYear)
	}
	if spec.Granularity < Yearly || spec.Granularity > Monthly {
		return nil, domain.Configf("window.granularity", spec.Granularity.String(), "unknown granularity")
	}

	g := spec.Granularity
	var out []Window
	for ord := (Period{Year: spec.StartYear, Sub: 1}).ordinal(g); ; ord += spec.Step {
		from := periodAt(g, ord)
		if from.Year > spec.LastStartYear {
			break
		}
		out = append(out, New(g, from, spec.Size))
	}
	return out, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
