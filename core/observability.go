package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// observeOperation emits the log line and the counter/duration pair for one
// service operation. Callers defer it with the operation's start time; the
// operation name is a fixed snake_case constant at every call site.
func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	elapsed := time.Since(startedAt)
	status := "success"
	if err != nil {
		status = "failure"
	}

	logFields := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		logFields[key] = value
	}
	logFields["event_type"] = operation
	logFields["status"] = status
	logFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		logFields["error"] = err.Error()
		logFields["error_class"] = ErrorClass(err)
	}

	s.emitMetrics(ctx, operation, status, elapsed, logFields)

	if err != nil {
		s.logEvent(ctx, true, operation+" failed", logFields)
		return
	}
	s.logEvent(ctx, false, operation+" succeeded", logFields)
}

func (s *Service) emitMetrics(ctx context.Context, operation string, status string, elapsed time.Duration, fields map[string]any) {
	if s.metricsRecorder == nil {
		return
	}
	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"provider_code", "authorization_type", "error_class"} {
		if raw, ok := fields[key]; ok {
			if value := strings.TrimSpace(fmt.Sprint(raw)); value != "" && value != "<nil>" {
				tags[key] = value
			}
		}
	}
	s.metricsRecorder.IncCounter(ctx, "connector."+operation+".total", 1, tags)
	s.metricsRecorder.ObserveHistogram(ctx, "connector."+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)
}

func (s *Service) logEvent(ctx context.Context, failed bool, message string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	args := sortedFieldArgs(fields)
	if failed {
		logger.Error(message, args...)
		return
	}
	logger.Info(message, args...)
}

// sortedFieldArgs flattens fields into key/value pairs in a stable order so
// log lines for the same operation stay diffable.
func sortedFieldArgs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}
