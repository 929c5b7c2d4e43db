// Package report announces finished match runs to operators and downstream
// services.
package report

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/common/logger"
	"match-workers/internal/models"
)

type Publisher interface {
	Name() string
	Publish(ctx context.Context, report *models.BatchRunReport) error
}

// Summary is the event payload sent to SNS and NATS.
type Summary struct {
	Cycle          string         `json:"cycle"`
	State          string         `json:"state"`
	UsersProcessed int            `json:"usersProcessed"`
	UsersSucceeded int            `json:"usersSucceeded"`
	UsersFailed    int            `json:"usersFailed"`
	MatchesCreated int            `json:"matchesCreated"`
	FailureRate    float64        `json:"failureRate"`
	FailuresByKind map[string]int `json:"failuresByKind,omitempty"`
	Cancelled      bool           `json:"cancelled,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      string         `json:"startedAt"`
	CompletedAt    string         `json:"completedAt"`
	DurationMs     int64          `json:"durationMs"`
}

func NewSummary(r *models.BatchRunReport) Summary {
	s := Summary{
		Cycle:          r.Cycle,
		State:          string(r.State),
		UsersProcessed: r.UsersProcessed,
		UsersSucceeded: r.UsersSucceeded,
		UsersFailed:    r.UsersFailed,
		MatchesCreated: r.MatchesCreated,
		FailureRate:    r.FailureRate(),
		Cancelled:      r.Cancelled,
		Error:          r.Error,
		StartedAt:      r.StartedAt.UTC().Format(time.RFC3339),
		CompletedAt:    r.CompletedAt.UTC().Format(time.RFC3339),
		DurationMs:     r.Duration().Milliseconds(),
	}
	if len(r.Failures) > 0 {
		s.FailuresByKind = r.FailuresByKind()
	}
	return s
}

// MultiPublisher sends a report to every configured channel. A failing
// channel does not stop the others.
type MultiPublisher struct {
	publishers []Publisher
	logger     logger.Logger
}

func NewMultiPublisher(log logger.Logger, publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{
		publishers: publishers,
		logger:     log.WithFields(map[string]interface{}{"component": "report-publisher"}),
	}
}

func (m *MultiPublisher) Name() string {
	names := make([]string, 0, len(m.publishers))
	for _, p := range m.publishers {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (m *MultiPublisher) Len() int { return len(m.publishers) }

func (m *MultiPublisher) Publish(ctx context.Context, r *models.BatchRunReport) error {
	var (
		errs   []error
		failed []string
	)
	for _, p := range m.publishers {
		if err := p.Publish(ctx, r); err != nil {
			m.logger.Warn("report publish failed", map[string]interface{}{
				"channel": p.Name(),
				"cycle":   r.Cycle,
				"error":   err.Error(),
			})
			errs = append(errs, err)
			failed = append(failed, p.Name())
			continue
		}
		m.logger.Debug("report published", map[string]interface{}{
			"channel": p.Name(),
			"cycle":   r.Cycle,
		})
	}
	if len(errs) == 0 {
		return nil
	}
	return apperrors.NewPublishFailedError(strings.Join(failed, ","), errors.Join(errs...))
}
