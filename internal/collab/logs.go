package collab

import (
	"context"
	"log/slog"
)

// LogSink writes audit and security events to the structured log only.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) RecordViolation(ctx context.Context, v Violation) error {
	logViolation(s.log, v)
	return nil
}

func (s *LogSink) Record(ctx context.Context, e AuditEntry) error {
	s.log.Info("audit",
		"action", e.Action,
		"user_id", e.UserID,
		"entity_id", e.EntityID,
		"correlation_id", e.CorrelationID,
		"attributes", e.Attributes,
	)
	return nil
}

func logViolation(logger *slog.Logger, v Violation) {
	logger.Warn("order rejected",
		"kind", v.Kind,
		"reason", v.Reason,
		"user_id", v.UserID,
		"correlation_id", v.CorrelationID,
		"payload", v.Payload,
	)
}
