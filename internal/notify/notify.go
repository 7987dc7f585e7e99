// Package notify announces finished index exports to downstream consumers.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Publisher pushes a payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ExportSummary describes one export run.
type ExportSummary struct {
	RunID      string    `json:"run_id"`
	Root       string    `json:"root"`
	Sink       string    `json:"sink"`
	Documents  int       `json:"documents"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Notifier stamps export runs and publishes their summaries.
type Notifier struct {
	publisher Publisher
	topic     string
	now       func() time.Time
}

// New returns a Notifier. A nil publisher disables publishing.
func New(publisher Publisher, topic string) *Notifier {
	return &Notifier{
		publisher: publisher,
		topic:     topic,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a summary with a fresh UUIDv7 run id.
func (n *Notifier) Start(root, sink string) (ExportSummary, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ExportSummary{}, fmt.Errorf("generate uuid7: %w", err)
	}
	return ExportSummary{RunID: id.String(), Root: root, Sink: sink, StartedAt: n.now()}, nil
}

// Finish completes s in place and publishes it.
func (n *Notifier) Finish(ctx context.Context, s *ExportSummary, documents int, exportErr error) (string, error) {
	s.Documents = documents
	s.FinishedAt = n.now()
	if exportErr != nil {
		s.Error = exportErr.Error()
	}
	if n.publisher == nil {
		return "", nil
	}
	id, err := n.publisher.Publish(ctx, n.topic, *s)
	if err != nil {
		return "", fmt.Errorf("publish export summary: %w", err)
	}
	return id, nil
}
