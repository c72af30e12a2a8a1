package telemetry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AllocationMeterName is the instrumentation scope of allocation metrics
const AllocationMeterName = "payalloc/allocation"

// Outcome attribute values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllocationMetrics holds the instruments recorded by the allocation and
// batch services. All methods are safe on a nil receiver.
type AllocationMetrics struct {
	allocations     *Counter
	allocationLines *Counter
	failures        *Counter
	reversals       *Counter
	batchRows       *Counter
	allocatedMinor  *Counter
	duration        *Histogram
	batchSize       *Histogram
}

// NewAllocationMetrics creates the allocation instruments on meter
func NewAllocationMetrics(meter metric.Meter) (*AllocationMetrics, error) {
	m := &AllocationMetrics{}
	counters := []struct {
		dst              **Counter
		name, desc, unit string
	}{
		{&m.allocations, "payalloc.allocations", "Allocation requests executed", "{request}"},
		{&m.allocationLines, "payalloc.allocation.lines", "Allocation records created", "{allocation}"},
		{&m.failures, "payalloc.allocation.failures", "Allocation requests rejected or failed", "{request}"},
		{&m.reversals, "payalloc.allocation.reversals", "Allocations reversed", "{allocation}"},
		{&m.batchRows, "payalloc.batch.rows", "Batch import rows processed", "{row}"},
		{&m.allocatedMinor, "payalloc.allocation.amount", "Allocated amount in minor units", "{minor_unit}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	m.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "payalloc.allocation.duration",
		Description: "Duration of allocation operations",
		Unit:        "s",
		Boundaries:  DurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	m.batchSize, err = NewHistogram(meter, HistogramOpts{
		Name:        "payalloc.batch.size",
		Description: "Rows per imported batch",
		Unit:        "{row}",
		Boundaries:  BatchSizeBuckets,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordAllocation records a successful allocation of lines totalling amount.
// amount is scaled to minor units with scale decimal places.
func (m *AllocationMetrics) RecordAllocation(ctx context.Context, method, strategyName string, lines int, amount decimal.Decimal, scale int32, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrMethod.String(method),
		AttrStrategy.String(strategyOrManual(strategyName)),
		AttrOutcome.String(OutcomeSuccess),
	}
	m.allocations.Inc(ctx, attrs...)
	m.allocationLines.Add(ctx, int64(lines), attrs...)
	m.allocatedMinor.Add(ctx, amount.Shift(scale).IntPart(), attrs...)
	m.duration.RecordDuration(ctx, elapsed, attrs...)
}

// RecordFailure records a rejected or failed allocation request
func (m *AllocationMetrics) RecordFailure(ctx context.Context, method, strategyName, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrMethod.String(method),
		AttrStrategy.String(strategyOrManual(strategyName)),
		AttrOutcome.String(OutcomeFailure),
	}
	m.failures.Inc(ctx, append(attrs, AttrErrorCode.String(code))...)
	m.duration.RecordDuration(ctx, elapsed, attrs...)
}

// RecordReversals records count reversed allocations
func (m *AllocationMetrics) RecordReversals(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.reversals.Add(ctx, int64(count))
}

// RecordBatch records the outcome of a batch import
func (m *AllocationMetrics) RecordBatch(ctx context.Context, sourceType string, valid, failed int) {
	if m == nil {
		return
	}
	src := AttrSourceType.String(sourceType)
	m.batchRows.Add(ctx, int64(valid), src, AttrOutcome.String(OutcomeSuccess))
	m.batchRows.Add(ctx, int64(failed), src, AttrOutcome.String(OutcomeFailure))
	m.batchSize.Record(ctx, float64(valid+failed), src)
}

func strategyOrManual(name string) string {
	if name == "" {
		return "manual"
	}
	return name
}
