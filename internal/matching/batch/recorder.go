package batch

import (
	"time"

	"match-workers/internal/models"
)

// Recorder receives run and per-member outcomes for metrics.
type Recorder interface {
	UserProcessed(outcome, errorKind string, d time.Duration)
	MatchesCreated(n int)
	RunFinished(report *models.BatchRunReport)
}

type NopRecorder struct{}

func (NopRecorder) UserProcessed(string, string, time.Duration) {}
func (NopRecorder) MatchesCreated(int)                         {}
func (NopRecorder) RunFinished(*models.BatchRunReport)         {}

// Recorders fans out to several recorders.
type Recorders []Recorder

func (rs Recorders) UserProcessed(outcome, errorKind string, d time.Duration) {
	for _, r := range rs {
		r.UserProcessed(outcome, errorKind, d)
	}
}

func (rs Recorders) MatchesCreated(n int) {
	for _, r := range rs {
		r.MatchesCreated(n)
	}
}

func (rs Recorders) RunFinished(report *models.BatchRunReport) {
	for _, r := range rs {
		r.RunFinished(report)
	}
}
