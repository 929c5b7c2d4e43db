package calculatematchscore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/common/logger"
	"match-workers/internal/common/metrics"
	"match-workers/internal/matching"
	"match-workers/internal/matching/cycle"
	"match-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "calculate-match-score"
)

type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

type RecentMatchSource interface {
	RecentMatches(ctx context.Context, userID, cycleID string, lookbackCycles int) ([]models.RecentMatchRecord, error)
}

// Handler scores one member pair on demand, with the same scorer and
// diversity rule as the weekly run.
type Handler struct {
	config       *Config
	profiles     ProfileSource
	recent       RecentMatchSource
	scorer       *matching.Scorer
	diversity    matching.DiversityFilter
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(config *Config, profiles ProfileSource, recent RecentMatchSource, scorer *matching.Scorer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		profiles:     profiles,
		recent:       recent,
		scorer:       scorer,
		diversity:    matching.NewDiversityFilter(config.DiversityPenalty),
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
		now:          time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewInvalidJobInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.UserID == "" || input.CandidateID == "" {
		return nil, apperrors.NewInvalidJobInputError("userId and candidateId are required")
	}
	if input.UserID == input.CandidateID {
		return nil, apperrors.NewInvalidJobInputError("a member cannot be matched with themselves")
	}
	cycleID := input.Cycle
	if cycleID == "" {
		cycleID = cycle.FromTime(h.now())
	} else if !cycle.Valid(cycleID) {
		return nil, apperrors.NewInvalidJobInputError(fmt.Sprintf("invalid cycle %q", cycleID))
	}

	user, err := h.profiles.GetProfile(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	candidate, err := h.profiles.GetProfile(ctx, input.CandidateID)
	if err != nil {
		return nil, err
	}

	var recent map[string]struct{}
	if h.recent != nil && h.config.RecentLookbackCycles > 0 {
		records, err := h.recent.RecentMatches(ctx, input.UserID, cycleID, h.config.RecentLookbackCycles)
		if err != nil {
			return nil, apperrors.NewExclusionLookupError(input.UserID, err)
		}
		recent = matching.RecentSet(records)
	}

	cand := models.CandidateProfile{UserProfile: *candidate}
	if user.Location != nil && candidate.Location != nil {
		d := matching.HaversineKm(*user.Location, *candidate.Location)
		cand.DistanceKm = &d
	}

	breakdown := h.scorer.Score(user, &cand)
	results := h.diversity.Apply([]models.MatchCandidateResult{{
		RequestingUserID: user.ID,
		CandidateUserID:  candidate.ID,
		OverallScore:     breakdown.OverallScore,
		Breakdown:        breakdown,
		Cycle:            cycleID,
	}}, recent)
	_, recentlyMatched := recent[candidate.ID]

	out := &Output{
		MatchScore: results[0].OverallScore,
		MatchFactors: MatchFactors{
			InterestFit:  breakdown.InterestScore,
			ProximityFit: breakdown.ProximityScore,
			ActivityFit:  breakdown.ActivityScore,
			RawScore:     breakdown.OverallScore,
		},
		RecentlyMatched: recentlyMatched,
		DistanceKm:      cand.DistanceKm,
		Cycle:           cycleID,
	}

	h.logger.Info("match score calculated", map[string]interface{}{
		"userId":          input.UserID,
		"candidateId":     input.CandidateID,
		"score":           out.MatchScore,
		"recentlyMatched": recentlyMatched,
	})
	return out, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.KindOf(err))).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
