package report

import (
	"context"
	"encoding/json"
	"fmt"

	"match-workers/internal/models"
)

type subjectPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher broadcasts the run summary so other services can react to a
// finished cycle.
type NATSPublisher struct {
	conn    subjectPublisher
	subject string
}

func NewNATSPublisher(conn subjectPublisher, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Publish(ctx context.Context, r *models.BatchRunReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewSummary(r))
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return p.conn.Publish(p.subject, data)
}
