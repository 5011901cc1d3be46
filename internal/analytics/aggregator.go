package analytics

import (
	"sort"
	"time"

	"github.com/usagekit/copilot-usage-tracker/internal/domain"
)

// seriesDays is the span of the daily time series, newest day last.
const seriesDays = 30

// Summary is the aggregate view over a set of usage events. All window
// counts are rolling relative to the "now" passed to Summarize, not
// calendar-aligned.
type Summary struct {
	TotalEvents     int `json:"totalEvents"`
	EventsToday     int `json:"eventsToday"`     // last 24h
	EventsThisWeek  int `json:"eventsThisWeek"`  // last 7d
	EventsThisMonth int `json:"eventsThisMonth"` // last 30d

	// TimeSeries holds one bucket per UTC day for the last seriesDays
	// days, zero-filled, oldest first.
	TimeSeries []TimeBucket `json:"timeSeriesData"`

	// KindDistribution always lists all event kinds, including zeroes.
	KindDistribution []KindCount `json:"eventTypeDistribution"`

	LanguageMetrics []GroupMetric `json:"languageMetrics"`
	ModelMetrics    []GroupMetric `json:"modelMetrics"`
}

// TimeBucket is one day of the time series.
type TimeBucket struct {
	Date  string `json:"date"` // UTC day, 2006-01-02
	Count int    `json:"count"`
}

// KindCount pairs an event kind with its total.
type KindCount struct {
	Kind  domain.EventKind `json:"type"`
	Count int              `json:"count"`
}

// GroupMetric aggregates events sharing one grouping key (a model
// deployment or a language). Missing keys group under "unknown".
type GroupMetric struct {
	Name          string `json:"name"`
	DisplayName   string `json:"displayName"`
	Count         int    `json:"count"`
	TotalTokens   int    `json:"totalTokens"`
	AvgDurationMs int    `json:"avgDurationMs"`
}

// ModelNamer renders a model deployment ID for display.
type ModelNamer interface {
	DisplayName(id string) string
}

// SummarizeOption tweaks Summarize behavior.
type SummarizeOption func(*summarizeOptions)

type summarizeOptions struct {
	models ModelNamer
}

// WithModelNames attaches display names to model metrics. Grouping
// stays keyed on the raw deployment ID.
func WithModelNames(m ModelNamer) SummarizeOption {
	return func(o *summarizeOptions) {
		o.models = m
	}
}

// Summarize computes the aggregate view over the given events. It is a
// pure function of its inputs: the same events and the same now always
// produce the same Summary.
func Summarize(events []domain.UsageEvent, now time.Time, opts ...SummarizeOption) Summary {
	var o summarizeOptions
	for _, opt := range opts {
		opt(&o)
	}

	now = now.UTC()
	dayStart := startOfDay(now).AddDate(0, 0, -(seriesDays - 1))

	dayCounts := make(map[string]int)
	kindCounts := make(map[domain.EventKind]int)
	languages := make(map[string]*groupAccum)
	models := make(map[string]*groupAccum)

	summary := Summary{TotalEvents: len(events)}

	for _, ev := range events {
		ts := ev.Timestamp.UTC()

		if inWindow(ts, now, 24*time.Hour) {
			summary.EventsToday++
		}
		if inWindow(ts, now, 7*24*time.Hour) {
			summary.EventsThisWeek++
		}
		if inWindow(ts, now, seriesDays*24*time.Hour) {
			summary.EventsThisMonth++
		}

		if !ts.Before(dayStart) && !ts.After(now) {
			dayCounts[ts.Format("2006-01-02")]++
		}

		kindCounts[ev.Kind]++

		accumulate(languages, orUnknown(ev.Language), ev)
		accumulate(models, orUnknown(ev.Model), ev)
	}

	summary.TimeSeries = make([]TimeBucket, 0, seriesDays)
	for i := 0; i < seriesDays; i++ {
		day := dayStart.AddDate(0, 0, i).Format("2006-01-02")
		summary.TimeSeries = append(summary.TimeSeries, TimeBucket{
			Date:  day,
			Count: dayCounts[day],
		})
	}

	for _, kind := range []domain.EventKind{
		domain.EventChat, domain.EventCompletion, domain.EventEdit, domain.EventExplain,
	} {
		summary.KindDistribution = append(summary.KindDistribution, KindCount{
			Kind:  kind,
			Count: kindCounts[kind],
		})
	}
	sort.SliceStable(summary.KindDistribution, func(i, j int) bool {
		a, b := summary.KindDistribution[i], summary.KindDistribution[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Kind < b.Kind
	})

	summary.LanguageMetrics = finishGroups(languages, nil)
	summary.ModelMetrics = finishGroups(models, o.models)

	return summary
}

// inWindow reports whether ts falls in the rolling window (now-span, now].
func inWindow(ts, now time.Time, span time.Duration) bool {
	return ts.After(now.Add(-span)) && !ts.After(now)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// groupAccum collects running totals for one grouping key.
type groupAccum struct {
	count      int
	tokens     int
	durationMs int64
}

// accumulate folds one event into the group for key, creating the
// group on first sight.
func accumulate(groups map[string]*groupAccum, key string, ev domain.UsageEvent) {
	g, ok := groups[key]
	if !ok {
		g = &groupAccum{}
		groups[key] = g
	}
	g.count++
	g.tokens += ev.TokensUsed
	g.durationMs += int64(ev.DurationMs)
}

// finishGroups converts a group map into the sorted slice form: count
// descending, ties by name ascending for a deterministic result.
func finishGroups(groups map[string]*groupAccum, namer ModelNamer) []GroupMetric {
	result := make([]GroupMetric, 0, len(groups))
	for name, g := range groups {
		m := GroupMetric{
			Name:        name,
			DisplayName: name,
			Count:       g.count,
			TotalTokens: g.tokens,
		}
		if g.count > 0 {
			m.AvgDurationMs = int(g.durationMs / int64(g.count))
		}
		if namer != nil {
			m.DisplayName = namer.DisplayName(name)
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	return result
}
