package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

// Calendar bucket counts per view.
const (
	dayBuckets   = 30
	weekBuckets  = 8
	monthBuckets = 12
	yearBuckets  = 5
)

// BuildProfitCalendar aggregates per-date profits into the buckets of view,
// oldest first and ending at today. Current is the last bucket.
func BuildProfitCalendar(daily map[string]float64, view models.ProfitView, today time.Time) models.ProfitCalendar {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	var buckets []models.ProfitBucket
	switch view {
	case models.ProfitViewWeek:
		buckets = weekView(daily, today)
	case models.ProfitViewMonth:
		buckets = prefixView(daily, monthBuckets, func(i int) string {
			return time.Date(today.Year(), today.Month()-time.Month(i), 1, 0, 0, 0, 0, today.Location()).Format("2006-01")
		})
	case models.ProfitViewYear:
		buckets = prefixView(daily, yearBuckets, func(i int) string {
			return fmt.Sprintf("%04d", today.Year()-i)
		})
	default:
		view = models.ProfitViewDay
		buckets = dayView(daily, today)
	}

	cal := models.ProfitCalendar{View: view, Buckets: buckets}
	if len(buckets) > 0 {
		cal.Current = buckets[len(buckets)-1].Value
	}
	for _, v := range daily {
		if v != 0 {
			cal.Days++
		}
	}
	return cal
}

// dayView has one bucket per calendar day, labelled M/D.
func dayView(daily map[string]float64, today time.Time) []models.ProfitBucket {
	out := make([]models.ProfitBucket, 0, dayBuckets)
	for i := dayBuckets - 1; i >= 0; i-- {
		d := today.AddDate(0, 0, -i)
		out = append(out, models.ProfitBucket{
			Label: fmt.Sprintf("%d/%d", int(d.Month()), d.Day()),
			Value: common.Round2(daily[d.Format(common.DateLayout)]),
		})
	}
	return out
}

// weekView sums raw 7-day windows counted back from today. Windows are not
// aligned to calendar weeks.
func weekView(daily map[string]float64, today time.Time) []models.ProfitBucket {
	out := make([]models.ProfitBucket, 0, weekBuckets)
	for w := weekBuckets - 1; w >= 0; w-- {
		end := today.AddDate(0, 0, -7*w)
		start := end.AddDate(0, 0, -6)
		sum := 0.0
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			sum += daily[d.Format(common.DateLayout)]
		}
		out = append(out, models.ProfitBucket{
			Label: fmt.Sprintf("%d/%d-%d/%d", int(start.Month()), start.Day(), int(end.Month()), end.Day()),
			Value: common.Round2(sum),
		})
	}
	return out
}

// prefixView sums date keys sharing each prefix; prefix(i) names the bucket
// i periods before the current one.
func prefixView(daily map[string]float64, n int, prefix func(i int) string) []models.ProfitBucket {
	out := make([]models.ProfitBucket, 0, n)
	for i := n - 1; i >= 0; i-- {
		p := prefix(i)
		sum := 0.0
		for date, v := range daily {
			if strings.HasPrefix(date, p) {
				sum += v
			}
		}
		out = append(out, models.ProfitBucket{Label: p, Value: common.Round2(sum)})
	}
	return out
}
