package quota

import "time"

// FirstMonthWindow is the grace window during which a subscriber gets
// first-month allowances. It is a fixed duration, not a calendar month.
const FirstMonthWindow = 31 * 24 * time.Hour

const day = 24 * time.Hour

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant
func (c FixedClock) Now() time.Time { return c.T }

// ResetClock derives billing-cycle facts from an anchor date
// (the subscription start) and a Clock.
type ResetClock struct {
	clock Clock
}

// NewResetClock creates a ResetClock. A nil clock means SystemClock.
func NewResetClock(clock Clock) *ResetClock {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ResetClock{clock: clock}
}

// Now returns the current time of the underlying clock
func (c *ResetClock) Now() time.Time {
	return c.clock.Now()
}

// NextBillingDate returns the anchor's day-of-month and time-of-day in the
// month after the current one. Days that do not exist in the target month
// are clamped to its last day (anchor 31st in April gives April 30th).
func (c *ResetClock) NextBillingDate(anchor time.Time) time.Time {
	return NextBillingDateFrom(anchor, c.clock.Now())
}

// DaysUntilReset returns the whole days, rounded up, until NextBillingDate.
// It never returns a negative number.
func (c *ResetClock) DaysUntilReset(anchor time.Time) int {
	return c.DaysUntil(c.NextBillingDate(anchor))
}

// DaysUntil returns the whole days, rounded up, from now until t, floored at 0
func (c *ResetClock) DaysUntil(t time.Time) int {
	diff := t.Sub(c.clock.Now())
	if diff <= 0 {
		return 0
	}
	days := int(diff / day)
	if diff%day != 0 {
		days++
	}
	return days
}

// IsFirstMonth reports whether created lies within FirstMonthWindow of now
func (c *ResetClock) IsFirstMonth(created time.Time) bool {
	return c.clock.Now().Sub(created) <= FirstMonthWindow
}

// NextBillingDateFrom places the anchor's day-of-month and time-of-day in
// the month following from, in the anchor's location.
func NextBillingDateFrom(anchor, from time.Time) time.Time {
	loc := anchor.Location()
	f := from.In(loc)

	year, month := f.Year(), f.Month()+1
	if month > time.December {
		month = time.January
		year++
	}

	d := anchor.Day()
	if last := daysIn(year, month, loc); d > last {
		d = last
	}
	return time.Date(year, month, d,
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), loc)
}

// CycleResetsDue walks forward from cycleStart and returns the start of the
// latest cycle that has begun by now, and how many resets that skips over.
// A zero count means the current cycle is still running.
func CycleResetsDue(anchor, cycleStart, now time.Time) (time.Time, int) {
	n := 0
	for {
		next := NextBillingDateFrom(anchor, cycleStart)
		if next.After(now) {
			return cycleStart, n
		}
		cycleStart = next
		n++
	}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
