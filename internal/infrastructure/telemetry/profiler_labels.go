package telemetry

import (
	"context"
	"maps"
	"slices"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys
const (
	ProfilingLabelOperation = "operation"
	ProfilingLabelStrategy  = "strategy"
	ProfilingLabelTenantID  = "tenant_id"
	ProfilingLabelRoute     = "route"
	ProfilingLabelMethod    = "method"
	ProfilingLabelResource  = "resource"
)

// MaxLabelValueLength caps label values
const MaxLabelValueLength = 128

// highCardinalityLabels are dropped from profiling labels
var highCardinalityLabels = map[string]struct{}{
	"payment_id":    {},
	"invoice_id":    {},
	"allocation_id": {},
	"batch_id":      {},
	"request_id":    {},
	"trace_id":      {},
}

// WithProfilingLabels runs fn with pprof labels attached so profiles can be
// sliced by operation and strategy.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	clean := sanitizeLabels(labels)
	if len(clean) == 0 {
		fn(ctx)
		return
	}

	kv := make([]string, 0, len(clean)*2)
	for _, k := range slices.Sorted(maps.Keys(clean)) {
		kv = append(kv, k, clean[k])
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(kv...), fn)
}

// AllocationOperationLabels returns the labels used around allocation work
func AllocationOperationLabels(operation, strategyName string) map[string]string {
	labels := map[string]string{ProfilingLabelOperation: operation}
	if strategyName != "" {
		labels[ProfilingLabelStrategy] = strategyName
	}
	return labels
}

func sanitizeLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range maps.All(labels) {
		if k == "" || v == "" {
			continue
		}
		if _, skip := highCardinalityLabels[k]; skip {
			continue
		}
		if len(v) > MaxLabelValueLength {
			v = v[:MaxLabelValueLength]
		}
		out[k] = v
	}
	return out
}
