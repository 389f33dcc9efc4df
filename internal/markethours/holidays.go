package markethours

import (
	"fmt"
	"time"
)

// NYSE full-day closures, as published by the exchange.
var nyseHolidays = map[int][]string{
	2025: {"01-01", "01-09", "01-20", "02-17", "04-18", "05-26", "06-19", "07-04", "09-01", "11-27", "12-25"},
	2026: {"01-01", "01-19", "02-16", "04-03", "05-25", "06-19", "07-03", "09-07", "11-26", "12-25"},
	2027: {"01-01", "01-18", "02-15", "03-26", "05-31", "06-18", "07-05", "09-06", "11-25", "12-24"},
}

var holidaySet = func() map[string]bool {
	set := make(map[string]bool)
	for year, days := range nyseHolidays {
		for _, md := range days {
			set[fmt.Sprintf("%d-%s", year, md)] = true
		}
	}
	return set
}()

// IsHoliday reports whether the New York date of t is an NYSE holiday.
// Years outside the table have no holidays.
func IsHoliday(t time.Time) bool {
	return holidaySet[t.In(NewYork).Format("2006-01-02")]
}
