package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"match-workers/internal/models"
)

type topicPublisher interface {
	PublishToTopic(ctx context.Context, topicARN, subject, message string, attrs map[string]string) (string, error)
}

// SNSPublisher posts the run summary as JSON to a topic.
type SNSPublisher struct {
	client   topicPublisher
	topicARN string
}

func NewSNSPublisher(client topicPublisher, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

func (p *SNSPublisher) Name() string { return "sns" }

func (p *SNSPublisher) Publish(ctx context.Context, r *models.BatchRunReport) error {
	body, err := json.Marshal(NewSummary(r))
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = p.client.PublishToTopic(ctx, p.topicARN, subjectFor(r), string(body), map[string]string{
		"cycle":       r.Cycle,
		"state":       string(r.State),
		"usersFailed": strconv.Itoa(r.UsersFailed),
	})
	return err
}

func subjectFor(r *models.BatchRunReport) string {
	switch {
	case r.State == models.RunStateFailed:
		return fmt.Sprintf("Match run %s failed", r.Cycle)
	case r.UsersFailed > 0:
		return fmt.Sprintf("Match run %s completed with %d failures", r.Cycle, r.UsersFailed)
	default:
		return fmt.Sprintf("Match run %s completed", r.Cycle)
	}
}
