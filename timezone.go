package onvif

import (
	"fmt"
	"time"
)

// TimezoneOffsetString formats the UTC offset of t as a POSIX style TZ
// string, where zones east of Greenwich carry a minus sign (UTC+02:00 is
// "UTC-2", UTC-05:30 is "UTC+5:30").
func TimezoneOffsetString(t time.Time) string {
	_, east := t.Zone()
	west := -east / 60

	sign := "+"
	if west < 0 {
		sign = "-"
		west = -west
	}

	hours, minutes := west/60, west%60
	if minutes == 0 {
		return fmt.Sprintf("UTC%s%d", sign, hours)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, hours, minutes)
}

// IsDSTObserved reports whether daylight saving time is in effect at t.
// Standard time is the smaller of the January and July offsets of t's
// year, which handles both hemispheres.
func IsDSTObserved(t time.Time) bool {
	_, current := t.Zone()
	return current > standardOffset(t)
}

func standardOffset(t time.Time) int {
	_, jan := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location()).Zone()
	_, jul := time.Date(t.Year(), time.July, 1, 0, 0, 0, 0, t.Location()).Zone()
	if jan < jul {
		return jan
	}
	return jul
}
