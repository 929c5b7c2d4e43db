package generateweeklymatches

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"match-workers/internal/common/camunda"
	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/common/logger"
	"match-workers/internal/common/metrics"
	"match-workers/internal/common/validation"
	"match-workers/internal/matching/cycle"
	"match-workers/internal/matching/report"
	"match-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "generate-weekly-matches"
)

var schema = validation.MustCompile(inputSchema)

type Runner interface {
	Run(ctx context.Context, cycleID string) (*models.BatchRunReport, error)
}

// RunStateStore guards a cycle against concurrent runs and keeps its report.
type RunStateStore interface {
	AcquireLock(ctx context.Context, cycleID string) (string, error)
	ReleaseLock(ctx context.Context, cycleID, token string) error
	SaveReport(ctx context.Context, r *models.BatchRunReport) error
	LoadReport(ctx context.Context, cycleID string) (*models.BatchRunReport, error)
}

type JobRecorder interface {
	RecordJobProcessed(ctx context.Context, taskType, status string)
	RecordJobDuration(ctx context.Context, taskType string, d time.Duration, status string)
}

type Handler struct {
	config       *Config
	runner       Runner
	state        RunStateStore
	publisher    report.Publisher
	recorder     JobRecorder
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

// NewHandler builds the handler. publisher and recorder may be nil.
func NewHandler(config *Config, runner Runner, state RunStateStore, publisher report.Publisher, recorder JobRecorder, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		runner:       runner,
		state:        state,
		publisher:    publisher,
		recorder:     recorder,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
		now:          time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	started := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job.Variables)
	if err == nil {
		var output *Output
		output, err = h.execute(ctx, input)
		if err == nil {
			h.completeJob(ctx, client, job, output)
			h.record(ctx, "completed", started)
			return
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.KindOf(err))).Inc()
	h.record(ctx, "failed", started)
	h.errorHandler.HandleJobError(context.Background(), client, job, err)
}

func parseInput(variables string) (*Input, error) {
	if res := schema.ValidateJSON(variables); !res.Valid {
		return nil, apperrors.NewInvalidJobInputError(res.Error())
	}
	var input Input
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &input); err != nil {
			return nil, apperrors.NewInvalidJobInputError(fmt.Sprintf("parse input: %v", err))
		}
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	cycleID := input.Cycle
	if cycleID == "" {
		cycleID = cycle.FromTime(h.now())
	} else if !cycle.Valid(cycleID) {
		return nil, apperrors.NewInvalidJobInputError(fmt.Sprintf("invalid cycle %q", cycleID))
	}
	log := h.logger.WithFields(map[string]interface{}{"cycle": cycleID})

	if !input.Force {
		cached, err := h.state.LoadReport(ctx, cycleID)
		if err != nil {
			log.Warn("failed to load stored report", map[string]interface{}{"error": err.Error()})
		}
		if cached != nil && cached.State == models.RunStateCompleted && !cached.Cancelled {
			log.Info("cycle already completed, returning stored report", nil)
			out := outputFrom(cached)
			out.FromCache = true
			return out, nil
		}
	}

	token, err := h.state.AcquireLock(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, apperrors.NewRunInProgressError(cycleID)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := h.state.ReleaseLock(releaseCtx, cycleID, token); err != nil {
			log.Warn("failed to release run lock", map[string]interface{}{"error": err.Error()})
		}
	}()

	result, runErr := h.runner.Run(ctx, cycleID)
	if result == nil {
		return nil, runErr
	}

	if result.State == models.RunStateCompleted {
		if err := h.state.SaveReport(context.WithoutCancel(ctx), result); err != nil {
			log.Warn("failed to store report", map[string]interface{}{"error": err.Error()})
		}
	}
	published := h.publish(ctx, result)

	if runErr != nil {
		return nil, runErr
	}

	out := outputFrom(result)
	out.Published = published
	return out, nil
}

// publish reports whether every channel accepted the report. Publishing
// failures never fail the job.
func (h *Handler) publish(ctx context.Context, r *models.BatchRunReport) bool {
	if h.publisher == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.PublishTimeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, r); err != nil {
		h.logger.Warn("run report not fully published", map[string]interface{}{
			"cycle": r.Cycle,
			"error": err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) record(ctx context.Context, status string, started time.Time) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordJobProcessed(ctx, TaskType, status)
	h.recorder.RecordJobDuration(ctx, TaskType, time.Since(started), status)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	err := camunda.Retry(context.WithoutCancel(ctx), camunda.DefaultRetryConfig, "complete-job", func(ctx context.Context) error {
		cmd, err := client.NewCompleteJobCommand().
			JobKey(job.Key).
			VariablesFromObject(output)
		if err != nil {
			return err
		}
		_, err = cmd.Send(ctx)
		return err
	})
	if err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()

	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":         job.Key,
		"cycle":          output.Cycle,
		"matchesCreated": output.MatchesCreated,
		"usersFailed":    output.UsersFailed,
		"fromCache":      output.FromCache,
	})
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
