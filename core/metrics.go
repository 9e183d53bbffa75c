package core

import "context"

// NopMetricsRecorder discards every measurement. It is the default recorder
// so embedding apps opt in to metrics rather than null-check around them.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}
