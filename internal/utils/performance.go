package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Slow-operation thresholds.
const (
	SlowOperation   = 30 * time.Second
	LongerOperation = 10 * time.Second
	SlowDBOperation = 5 * time.Second
)

// Span measures one operation. End must run on every exit path, usually in a defer.
//
// Usage:
//
//	func (f *Fetcher) Fetch() (err error) {
//	    span := utils.StartSpan(f.log, "fetch_historical")
//	    defer func() { span.End(err) }()
//	    ...
//	}
type Span struct {
	operation string
	start     time.Time
	fields    map[string]any
	log       zerolog.Logger
	now       func() time.Time
}

// StartSpan starts timing operation.
func StartSpan(log zerolog.Logger, operation string) *Span {
	return startSpan(log, operation, time.Now)
}

func startSpan(log zerolog.Logger, operation string, now func() time.Time) *Span {
	return &Span{
		operation: operation,
		start:     now(),
		log:       log,
		now:       now,
	}
}

// With attaches a field to the record emitted by End.
func (s *Span) With(key string, value any) *Span {
	if s.fields == nil {
		s.fields = make(map[string]any)
	}
	s.fields[key] = value
	return s
}

// End emits one record with the duration and outcome and returns the duration.
func (s *Span) End(err error) time.Duration {
	duration := s.now().Sub(s.start)

	var event *zerolog.Event
	switch {
	case err != nil:
		event = s.log.Warn().Err(err)
	case duration > SlowOperation:
		event = s.log.Warn()
	case duration > LongerOperation:
		event = s.log.Info()
	default:
		event = s.log.Debug()
	}

	event.
		Str("operation", s.operation).
		Dur("duration_ms", duration).
		Bool("success", err == nil).
		Fields(s.fields).
		Msg(spanMessage(err, duration))

	return duration
}

func spanMessage(err error, duration time.Duration) string {
	switch {
	case err != nil:
		return "Operation failed"
	case duration > SlowOperation:
		return "Slow operation detected (>30s)"
	case duration > LongerOperation:
		return "Operation took longer than expected (>10s)"
	default:
		return "Operation completed"
	}
}

// MeasureDBQuery measures a database statement; call the result with the affected rows.
func MeasureDBQuery(queryName string, log zerolog.Logger) func(rowsAffected int64) {
	start := time.Now()

	return func(rowsAffected int64) {
		duration := time.Since(start)

		log.Debug().
			Str("query", queryName).
			Dur("duration_ms", duration).
			Int64("rows_affected", rowsAffected).
			Msg("Database query completed")

		if duration > SlowDBOperation {
			log.Warn().
				Str("query", queryName).
				Dur("duration", duration).
				Int64("rows_affected", rowsAffected).
				Msg("Slow database query detected")
		}
	}
}
