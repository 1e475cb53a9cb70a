package memory

import (
	"github.com/odvcencio/foxwire/pkg/browser"
)

// Diagnostic record keys.
const (
	KeyTimings  = "firefox:gc:timings"
	KeyTimes    = "firefox:gc:times"
	KeyAverages = "firefox:gc:averages"
	KeyTotals   = "firefox:gc:totals"
)

// CollectionSummary is a reduced collection event. Duration is the sum of its
// sub-collection lengths; Spread runs from the first start to the last end.
type CollectionSummary struct {
	Num                  int     `json:"num"`
	NonincrementalReason string  `json:"nonincrementalReason,omitempty"`
	Reason               string  `json:"reason,omitempty"`
	GCCycleNumber        int     `json:"gcCycleNumber,omitempty"`
	Duration             float64 `json:"duration"`
	Spread               float64 `json:"spread"`
}

// Timings are the raw samples, in milliseconds.
type Timings struct {
	GC          []float64           `json:"gc"`
	CC          []float64           `json:"cc"`
	Collections []CollectionSummary `json:"collections"`
}

// Counts are sample counts.
type Counts struct {
	GC          int `json:"gc"`
	CC          int `json:"cc"`
	Collections int `json:"collections"`
}

// Aggregate holds a mean or sum per series, in milliseconds.
type Aggregate struct {
	GC          float64 `json:"gc"`
	CC          float64 `json:"cc"`
	Collections float64 `json:"collections"`
	Spread      float64 `json:"spread"`
}

// Report is one summary of everything recorded since the previous one.
type Report struct {
	Timings  Timings   `json:"timings"`
	Times    Counts    `json:"times"`
	Averages Aggregate `json:"averages"`
	Totals   Aggregate `json:"totals"`
}

// Empty reports whether nothing was recorded.
func (r Report) Empty() bool {
	return r.Times == Counts{}
}

// Emit writes the four diagnostic records to sink.
func (r Report) Emit(sink browser.DiagnosticSink) {
	if sink == nil {
		return
	}
	sink.Record(KeyTimings, r.Timings)
	sink.Record(KeyTimes, r.Times)
	sink.Record(KeyAverages, r.Averages)
	sink.Record(KeyTotals, r.Totals)
}

// Summarize reduces a single collection event.
func Summarize(gc browser.GarbageCollection) CollectionSummary {
	out := CollectionSummary{
		Num:                  gc.Num,
		NonincrementalReason: gc.NonincrementalReason,
		Reason:               gc.Reason,
		GCCycleNumber:        gc.GCCycleNumber,
	}
	if len(gc.Collections) == 0 {
		return out
	}
	for _, span := range gc.Collections {
		out.Duration += span.EndTimestamp - span.StartTimestamp
	}
	out.Spread = gc.Collections[len(gc.Collections)-1].EndTimestamp - gc.Collections[0].StartTimestamp
	return out
}

func buildReport(gc, cc []float64, collections []browser.GarbageCollection) Report {
	summaries := make([]CollectionSummary, 0, len(collections))
	for _, c := range collections {
		summaries = append(summaries, Summarize(c))
	}

	var durations, spreads float64
	for _, s := range summaries {
		durations += s.Duration
		spreads += s.Spread
	}

	totals := Aggregate{
		GC:          sum(gc),
		CC:          sum(cc),
		Collections: durations,
		Spread:      spreads,
	}
	return Report{
		Timings: Timings{
			GC:          nonNil(gc),
			CC:          nonNil(cc),
			Collections: summaries,
		},
		Times: Counts{
			GC:          len(gc),
			CC:          len(cc),
			Collections: len(summaries),
		},
		Averages: Aggregate{
			GC:          mean(totals.GC, len(gc)),
			CC:          mean(totals.CC, len(cc)),
			Collections: mean(totals.Collections, len(summaries)),
			Spread:      mean(totals.Spread, len(summaries)),
		},
		Totals: totals,
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// mean of an empty series is 0.
func mean(total float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func nonNil(values []float64) []float64 {
	if values == nil {
		return []float64{}
	}
	return values
}
