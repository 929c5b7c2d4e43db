package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"match-workers/internal/models"
)

type emailSender interface {
	SendText(ctx context.Context, from string, to []string, subject, body string) (string, error)
}

// SESPublisher emails operators when a run failed or its per-member failure
// rate exceeds the threshold. Healthy runs are not mailed.
type SESPublisher struct {
	client    emailSender
	from      string
	to        []string
	threshold float64
}

func NewSESPublisher(client emailSender, from string, to []string, threshold float64) *SESPublisher {
	return &SESPublisher{client: client, from: from, to: to, threshold: threshold}
}

func (p *SESPublisher) Name() string { return "ses" }

// ShouldAlert reports whether r warrants an email.
func (p *SESPublisher) ShouldAlert(r *models.BatchRunReport) bool {
	if r.State == models.RunStateFailed {
		return true
	}
	return r.UsersProcessed > 0 && r.FailureRate() > p.threshold
}

func (p *SESPublisher) Publish(ctx context.Context, r *models.BatchRunReport) error {
	if !p.ShouldAlert(r) {
		return nil
	}
	_, err := p.client.SendText(ctx, p.from, p.to, subjectFor(r), renderEmail(r))
	return err
}

const maxListedFailures = 20

func renderEmail(r *models.BatchRunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle:            %s\n", r.Cycle)
	fmt.Fprintf(&b, "State:            %s\n", r.State)
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:            %s\n", r.Error)
	}
	fmt.Fprintf(&b, "Users processed:  %d\n", r.UsersProcessed)
	fmt.Fprintf(&b, "Users succeeded:  %d\n", r.UsersSucceeded)
	fmt.Fprintf(&b, "Users failed:     %d (%.1f%%)\n", r.UsersFailed, r.FailureRate()*100)
	fmt.Fprintf(&b, "Matches created:  %d\n", r.MatchesCreated)
	fmt.Fprintf(&b, "Duration:         %s\n", r.Duration())
	if r.Cancelled {
		b.WriteString("The run was cancelled before every member was processed.\n")
	}

	if len(r.Failures) == 0 {
		return b.String()
	}

	byKind := r.FailuresByKind()
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	b.WriteString("\nFailures by kind:\n")
	for _, k := range kinds {
		fmt.Fprintf(&b, "  %-28s %d\n", k, byKind[k])
	}

	b.WriteString("\nFailed members:\n")
	for i, f := range r.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "  ... and %d more\n", len(r.Failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&b, "  %s  %s  %s\n", f.UserID, f.ErrorKind, f.Message)
	}
	return b.String()
}
