// Package markethours answers regular-session questions for US equities
// (09:30-16:00 America/New_York, Mon-Fri, NYSE holidays).
package markethours

import (
	"time"
	_ "time/tzdata" // America/New_York on hosts without zoneinfo
)

// NewYork is the exchange time zone.
var NewYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Regular session in New York time.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0
)

// IsMarketOpen returns true if t falls within regular trading hours.
func IsMarketOpen(t time.Time) bool {
	ny := t.In(NewYork)
	if !IsTradingDay(ny) {
		return false
	}
	hm := ny.Hour()*60 + ny.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri in New York.
func IsWeekday(t time.Time) bool {
	wd := t.In(NewYork).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	return IsWeekday(t) && !IsHoliday(t)
}

// NextOpen returns the next session open. If t is before today's open on
// a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	ny := t.In(NewYork)

	todayOpen := time.Date(ny.Year(), ny.Month(), ny.Day(), OpenHour, OpenMinute, 0, 0, NewYork)
	if ny.Before(todayOpen) && IsTradingDay(ny) {
		return todayOpen
	}

	d := ny
	for i := 0; i < 10; i++ { // weekends plus at most one holiday
		d = time.Date(d.Year(), d.Month(), d.Day()+1, 12, 0, 0, 0, NewYork)
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, NewYork)
		}
	}
	return time.Date(ny.Year(), ny.Month(), ny.Day()+1, OpenHour, OpenMinute, 0, 0, NewYork)
}

// TodayClose returns today's close time.
func TodayClose(t time.Time) time.Time {
	ny := t.In(NewYork)
	return time.Date(ny.Year(), ny.Month(), ny.Day(), CloseHour, CloseMinute, 0, 0, NewYork)
}

// TimeUntilClose returns the duration until today's close, or 0 when the
// market is closed.
func TimeUntilClose(t time.Time) time.Duration {
	if !IsMarketOpen(t) {
		return 0
	}
	return TodayClose(t).Sub(t)
}
