package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Distributions
var defaultMillisecondsDistribution = view.Distribution(
	0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8,
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
	150, 200, 250, 300, 350, 400, 450, 500,
	600, 700, 800, 900, 1000,
	2000, 5000, 10000, 30000, 60000, 120_000, 300_000,
)

var queueSizeDistribution = view.Distribution(0, 1, 2, 3, 5, 7, 10, 15, 25, 35, 50, 70, 90, 130, 200, 300, 500, 1000, 2000, 5000, 10000)

// Tags
var (
	Version, _ = tag.NewKey("version")
	Commit, _  = tag.NewKey("commit")

	Worker, _ = tag.NewKey("worker")
)

// Measures
var (
	Info = stats.Int64("info", "Arbitrary counter to tag dualtree info to", stats.UnitDimensionless)

	// scheduler
	TaskPushed     = stats.Int64("sched/task_pushed", "Counter for tasks pushed into the queue", stats.UnitDimensionless)
	TaskDequeued   = stats.Int64("sched/task_dequeued", "Counter for tasks handed to workers", stats.UnitDimensionless)
	DequeueMiss    = stats.Int64("sched/dequeue_miss", "Counter for dequeues finding the slot empty or held", stats.UnitDimensionless)
	SubtreeSplit   = stats.Int64("sched/subtree_split", "Counter for query subtree splits", stats.UnitDimensionless)
	TasksRemaining = stats.Int64("sched/tasks_remaining", "Number of tasks pending across all slots", stats.UnitDimensionless)
	QueueSlots     = stats.Int64("sched/slots", "Number of query subtree slots", stats.UnitDimensionless)

	// exchange
	CacheSlots     = stats.Int64("exchange/cache_slots", "Number of resident cache slots", stats.UnitDimensionless)
	CacheRefsAdded = stats.Int64("exchange/cache_refs_added", "Counter for cache references taken", stats.UnitDimensionless)

	// engine
	BaseCasePairs     = stats.Int64("engine/base_case_pairs", "Counter for point pairs evaluated in base cases", stats.UnitDimensionless)
	TraversalDuration = stats.Float64("engine/traversal_ms", "Duration of a full traversal", stats.UnitMilliseconds)
)

// Views
var (
	InfoView = &view.View{
		Name:        "info",
		Description: "dualtree information",
		Measure:     Info,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit},
	}
	TaskPushedView = &view.View{
		Measure:     TaskPushed,
		Aggregation: view.Count(),
	}
	TaskDequeuedView = &view.View{
		Measure:     TaskDequeued,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Worker},
	}
	DequeueMissView = &view.View{
		Measure:     DequeueMiss,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Worker},
	}
	SubtreeSplitView = &view.View{
		Measure:     SubtreeSplit,
		Aggregation: view.Count(),
	}
	TasksRemainingView = &view.View{
		Measure:     TasksRemaining,
		Aggregation: queueSizeDistribution,
	}
	QueueSlotsView = &view.View{
		Measure:     QueueSlots,
		Aggregation: view.LastValue(),
	}
	CacheSlotsView = &view.View{
		Measure:     CacheSlots,
		Aggregation: view.LastValue(),
	}
	CacheRefsAddedView = &view.View{
		Measure:     CacheRefsAdded,
		Aggregation: view.Sum(),
	}
	BaseCasePairsView = &view.View{
		Measure:     BaseCasePairs,
		Aggregation: view.Sum(),
	}
	TraversalDurationView = &view.View{
		Measure:     TraversalDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
)

// DefaultViews is an array of metrics views for common queue operation.
var DefaultViews = []*view.View{
	InfoView,
	TaskPushedView,
	TaskDequeuedView,
	DequeueMissView,
	SubtreeSplitView,
	TasksRemainingView,
	QueueSlotsView,
	CacheSlotsView,
	CacheRefsAddedView,
	BaseCasePairsView,
	TraversalDurationView,
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer begins a timer and returns a function to record the duration since
// the timer started running.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}
