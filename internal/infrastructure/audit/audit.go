package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one append-only audit record. Payload keeps the full gateway
// request and response; it is never returned to end users.
type Entry struct {
	Event         string         `bson:"event" json:"event"`
	TransactionID string         `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	UserID        int64          `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Payload       map[string]any `bson:"payload,omitempty" json:"payload,omitempty"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
}

// LogSink writes entries to the application log. Used when MongoDB is disabled.
type LogSink struct {
	log *logrus.Logger
}

func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(_ context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.log.WithFields(logrus.Fields{
		"audit_event":    e.Event,
		"transaction_id": e.TransactionID,
		"user_id":        e.UserID,
		"payload":        e.Payload,
	}).Info("audit")
	return nil
}
