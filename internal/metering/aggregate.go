package metering

import (
	"sort"
	"time"

	"github.com/alecgard/tokentrack/internal/pricing"
	"github.com/shopspring/decimal"
)

// DefaultPeriod is used when an analytics period is missing or unrecognised.
const DefaultPeriod = "30d"

var periodDays = map[string]int{
	"7d":  7,
	"30d": 30,
	"90d": 90,
}

// ResolveWindow maps a period token to the start of its window relative to
// now. Unknown tokens resolve to DefaultPeriod, and the token actually used
// is returned alongside the start.
func ResolveWindow(period string, now time.Time) (time.Time, string) {
	days, ok := periodDays[period]
	if !ok {
		period = DefaultPeriod
		days = periodDays[DefaultPeriod]
	}
	return now.AddDate(0, 0, -days), period
}

// SummaryStats aggregates the successful records that belong to ownerID.
// An empty match yields a zero Summary.
func SummaryStats(records []Record, ownerID string) Summary {
	var acc accumulator
	for i := range records {
		r := &records[i]
		if r.OwnerID != ownerID || r.Status != StatusSuccess {
			continue
		}
		acc.add(r)
	}
	return acc.summary()
}

// ComputeAnalytics aggregates every record of ownerID created at or after
// windowStart, regardless of status. Hourly buckets group by UTC hour of
// day across all dates in the window and are sorted by hour.
func ComputeAnalytics(records []Record, ownerID string, windowStart time.Time) Analytics {
	var acc accumulator
	models := make(map[string]struct{})
	hours := make(map[int]*HourlyBucket)

	for i := range records {
		r := &records[i]
		if r.OwnerID != ownerID || r.CreatedAt.Before(windowStart) {
			continue
		}
		acc.add(r)
		models[r.Model] = struct{}{}

		h := r.CreatedAt.UTC().Hour()
		b, ok := hours[h]
		if !ok {
			b = &HourlyBucket{Hour: h}
			hours[h] = b
		}
		b.RequestCount++
		b.TotalTokens += int64(r.TotalTokens)
	}

	out := Analytics{
		WindowStart: windowStart,
		Summary: AnalyticsSummary{
			Summary: acc.summary(),
			Models:  make([]string, 0, len(models)),
		},
		HourlyUsage: make([]HourlyBucket, 0, len(hours)),
	}
	for m := range models {
		out.Summary.Models = append(out.Summary.Models, m)
	}
	sort.Strings(out.Summary.Models)
	for _, b := range hours {
		out.HourlyUsage = append(out.HourlyUsage, *b)
	}
	sort.Slice(out.HourlyUsage, func(i, j int) bool {
		return out.HourlyUsage[i].Hour < out.HourlyUsage[j].Hour
	})
	return out
}

// AnalyticsForPeriod resolves period against now and aggregates the owner's records
// inside that window.
func AnalyticsForPeriod(records []Record, ownerID, period string, now time.Time) Analytics {
	start, used := ResolveWindow(period, now)
	out := ComputeAnalytics(records, ownerID, start)
	out.Period = used
	return out
}

type accumulator struct {
	tokens       int64
	cost         decimal.Decimal
	requests     int64
	responseTime int64
}

func (a *accumulator) add(r *Record) {
	a.tokens += int64(r.TotalTokens)
	a.cost = a.cost.Add(r.EstimatedCost)
	a.requests++
	a.responseTime += r.ResponseTime
}

func (a *accumulator) summary() Summary {
	s := Summary{
		TotalTokens:   a.tokens,
		TotalCost:     a.cost.Round(pricing.CostPlaces),
		TotalRequests: a.requests,
	}
	if a.requests > 0 {
		s.AvgResponseTime = float64(a.responseTime) / float64(a.requests)
	}
	return s
}
