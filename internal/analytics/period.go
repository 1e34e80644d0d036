package analytics

import (
	"fmt"
	"time"
)

// bucketPeriod buckets a date-typed value into week/month/quarter and
// formats the bucket as "YYYY-MM" (spec §4.7 "Period values... formatted
// as YYYY-MM on output").
func bucketPeriod(v any, period string) (string, bool) {
	t, ok := v.(time.Time)
	if !ok {
		return "", false
	}
	switch period {
	case "week":
		weekday := int(t.Weekday())
		monday := t.AddDate(0, 0, -((weekday + 6) % 7))
		return monday.Format("2006-01"), true
	case "month":
		return t.Format("2006-01"), true
	case "quarter":
		qMonth := ((int(t.Month())-1)/3)*3 + 1
		return fmt.Sprintf("%04d-%02d", t.Year(), qMonth), true
	}
	return "", false
}
