// Package batch drives the weekly match run over every member who still
// needs matches in a cycle.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/common/logger"
	"match-workers/internal/matching"
	"match-workers/internal/matching/cycle"
	"match-workers/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

type UserEligibilitySource interface {
	UsersNeedingMatches(ctx context.Context, cycleID string, quota int) ([]string, error)
}

type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

type CandidateSource interface {
	FetchCandidates(ctx context.Context, q models.CandidateQuery) ([]models.CandidateProfile, error)
}

// MatchStore is the match history. Persist must be idempotent per pair and cycle.
// CycleMatchCounts must return an entry for every requested id.
type MatchStore interface {
	ExistingMatchIDs(ctx context.Context, userID, cycleID string, lookbackCycles int) ([]string, error)
	RecentMatches(ctx context.Context, userID, cycleID string, lookbackCycles int) ([]models.RecentMatchRecord, error)
	CycleMatchCount(ctx context.Context, userID, cycleID string) (int, error)
	CycleMatchCounts(ctx context.Context, cycleID string, userIDs []string) (map[string]int, error)
	Persist(ctx context.Context, matches []models.Match) (int, error)
}

// Config tunes a run.
type Config struct {
	MatchesPerUser          int
	BatchSize               int
	BatchPause              time.Duration
	MaxRadiusKm             float64
	RecentLookbackCycles    int
	ExclusionLookbackCycles int // 0 = all time
	CandidatePoolSize       int
	DefaultAgeMin           int
	DefaultAgeMax           int
	// UserTimeout bounds one member's pipeline. Pipelines are detached from
	// run cancellation so they can finish once started.
	UserTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MatchesPerUser:       matching.DefaultMatchesPerUser,
		BatchSize:            10,
		BatchPause:           100 * time.Millisecond,
		MaxRadiusKm:          matching.DefaultMaxRadiusKm,
		RecentLookbackCycles: 4,
		CandidatePoolSize:    100,
		UserTimeout:          30 * time.Second,
	}
}

// Dependencies are the collaborators of a run.
type Dependencies struct {
	Users      UserEligibilitySource
	Profiles   ProfileSource
	Candidates CandidateSource
	Matches    MatchStore
	Selector   *matching.Selector
	Recorder   Recorder
	Tracer     trace.Tracer
	Logger     logger.Logger
	Clock      func() time.Time
}

// Orchestrator runs one cycle at a time. Within a batch every member's
// pipeline runs concurrently; batches run one after another.
type Orchestrator struct {
	cfg  Config
	deps Dependencies

	mu    sync.Mutex
	state models.RunState
}

func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Users == nil || deps.Profiles == nil || deps.Candidates == nil || deps.Matches == nil || deps.Selector == nil {
		return nil, fmt.Errorf("batch: users, profiles, candidates, matches and selector are required")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MatchesPerUser < 0 {
		cfg.MatchesPerUser = 0
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = 30 * time.Second
	}
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("match-workers/batch")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		state: models.RunStateNotStarted,
	}, nil
}

func (o *Orchestrator) State() models.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s models.RunState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run generates matches for cycleID, or for the current cycle when empty.
// A non-nil error is returned only when the run itself could not proceed;
// per-member failures are reported in the returned report.
func (o *Orchestrator) Run(ctx context.Context, cycleID string) (*models.BatchRunReport, error) {
	if cycleID == "" {
		cycleID = cycle.FromTime(o.deps.Clock())
	} else if !cycle.Valid(cycleID) {
		return nil, apperrors.NewInvalidJobInputError(fmt.Sprintf("invalid cycle %q", cycleID))
	}

	o.mu.Lock()
	if o.state == models.RunStateRunning {
		o.mu.Unlock()
		return nil, apperrors.NewRunInProgressError(cycleID)
	}
	o.state = models.RunStateRunning
	o.mu.Unlock()

	log := o.deps.Logger.WithFields(map[string]interface{}{"cycle": cycleID})
	ctx, span := o.deps.Tracer.Start(ctx, "match-run", trace.WithAttributes(attribute.String("match.cycle", cycleID)))
	defer span.End()

	report := &models.BatchRunReport{
		Cycle:     cycleID,
		State:     models.RunStateRunning,
		Failures:  []models.UserFailure{},
		StartedAt: o.deps.Clock().UTC(),
	}

	users, err := o.deps.Users.UsersNeedingMatches(ctx, cycleID, o.cfg.MatchesPerUser)
	if err != nil {
		runErr := apperrors.NewEnumerationFailedError(cycleID, err)
		report.State = models.RunStateFailed
		report.Error = runErr.Error()
		report.CompletedAt = o.deps.Clock().UTC()
		o.setState(models.RunStateFailed)

		span.RecordError(err)
		span.SetStatus(codes.Error, "enumeration failed")
		o.deps.Recorder.RunFinished(report)
		log.Error("match run failed to enumerate users", map[string]interface{}{"error": err.Error()})
		return report, runErr
	}

	log.Info("match run started", map[string]interface{}{
		"users":     len(users),
		"batchSize": o.cfg.BatchSize,
	})
	span.SetAttributes(attribute.Int("match.users", len(users)))

	var mu sync.Mutex
	ledger := newQuotaLedger(o.cfg.MatchesPerUser)
	for start := 0; start < len(users); start += o.cfg.BatchSize {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		if start > 0 && !o.pause(ctx) {
			report.Cancelled = true
			break
		}

		end := min(start+o.cfg.BatchSize, len(users))
		o.runBatch(ctx, cycleID, users[start:end], ledger, report, &mu)

		log.Debug("batch completed", map[string]interface{}{
			"batch":     start/o.cfg.BatchSize + 1,
			"processed": report.UsersProcessed,
		})
	}

	sort.SliceStable(report.Failures, func(i, j int) bool {
		return report.Failures[i].UserID < report.Failures[j].UserID
	})
	report.State = models.RunStateCompleted
	report.CompletedAt = o.deps.Clock().UTC()
	o.setState(models.RunStateCompleted)

	span.SetAttributes(
		attribute.Int("match.users_failed", report.UsersFailed),
		attribute.Int("match.matches_created", report.MatchesCreated),
		attribute.Bool("match.cancelled", report.Cancelled),
	)
	o.deps.Recorder.RunFinished(report)

	log.Info("match run completed", map[string]interface{}{
		"processed":      report.UsersProcessed,
		"succeeded":      report.UsersSucceeded,
		"failed":         report.UsersFailed,
		"matchesCreated": report.MatchesCreated,
		"cancelled":      report.Cancelled,
		"durationMs":     report.Duration().Milliseconds(),
	})
	return report, nil
}

// pause waits between batches and reports false when ctx ends first.
func (o *Orchestrator) pause(ctx context.Context) bool {
	if o.cfg.BatchPause <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(o.cfg.BatchPause)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) runBatch(ctx context.Context, cycleID string, userIDs []string, ledger *quotaLedger, report *models.BatchRunReport, mu *sync.Mutex) {
	var wg sync.WaitGroup
	detached := context.WithoutCancel(ctx)

	for _, id := range userIDs {
		if ctx.Err() != nil {
			mu.Lock()
			report.Cancelled = true
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(userID string) {
			defer wg.Done()

			started := time.Now()
			created, err := o.processUserSafely(detached, cycleID, userID, ledger)
			elapsed := time.Since(started)

			mu.Lock()
			defer mu.Unlock()
			report.UsersProcessed++
			if err != nil {
				kind := apperrors.KindOf(err)
				report.UsersFailed++
				report.Failures = append(report.Failures, models.UserFailure{
					UserID:    userID,
					ErrorKind: string(kind),
					Message:   err.Error(),
				})
				o.deps.Recorder.UserProcessed(OutcomeFailed, string(kind), elapsed)
				return
			}
			report.UsersSucceeded++
			report.MatchesCreated += created
			o.deps.Recorder.UserProcessed(OutcomeSucceeded, "", elapsed)
			o.deps.Recorder.MatchesCreated(created)
		}(id)
	}
	wg.Wait()
}

func (o *Orchestrator) processUserSafely(ctx context.Context, cycleID, userID string, ledger *quotaLedger) (created int, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.deps.Logger.Error("panic in match pipeline", map[string]interface{}{
				"userId": userID,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			})
			created, err = 0, apperrors.NewInternalError(fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.UserTimeout)
	defer cancel()

	ctx, span := o.deps.Tracer.Start(ctx, "match-user", trace.WithAttributes(attribute.String("match.user_id", userID)))
	defer span.End()

	created, err = o.processUser(ctx, cycleID, userID, ledger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.KindOf(err)))
		o.deps.Logger.Warn("match pipeline failed", map[string]interface{}{
			"userId":    userID,
			"cycle":     cycleID,
			"errorKind": string(apperrors.KindOf(err)),
			"error":     err.Error(),
		})
	}
	span.SetAttributes(attribute.Int("match.created", created))
	return created, err
}

// processUser runs one member's pipeline. Slots are reserved in the ledger
// for both sides of a pair before anything is persisted, so neither the
// member nor a candidate goes over the cycle quota.
func (o *Orchestrator) processUser(ctx context.Context, cycleID, userID string, ledger *quotaLedger) (int, error) {
	profile, err := o.deps.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeProfileNotFound) {
			return 0, apperrors.NewValidationError(userID, "profile not found")
		}
		return 0, apperrors.NewCandidateLookupError(userID, err)
	}
	if err := profile.ValidateForMatching(); err != nil {
		return 0, apperrors.NewValidationError(userID, err.Error())
	}

	if len(ledger.unseen([]string{userID})) > 0 {
		held, err := o.deps.Matches.CycleMatchCount(ctx, userID, cycleID)
		if err != nil {
			return 0, apperrors.NewExclusionLookupError(userID, err)
		}
		ledger.seed(map[string]int{userID: held})
	}
	remaining := ledger.remaining(userID)
	if remaining <= 0 {
		return 0, nil
	}

	candidates, err := o.deps.Candidates.FetchCandidates(ctx, o.candidateQuery(profile))
	if err != nil {
		return 0, apperrors.NewCandidateLookupError(userID, err)
	}
	if len(candidates) == 0 {
		o.logNoCandidates(userID, cycleID, "empty candidate search")
		return 0, nil
	}

	existing, err := o.deps.Matches.ExistingMatchIDs(ctx, userID, cycleID, o.cfg.ExclusionLookbackCycles)
	if err != nil {
		return 0, apperrors.NewExclusionLookupError(userID, err)
	}
	recent, err := o.deps.Matches.RecentMatches(ctx, userID, cycleID, o.cfg.RecentLookbackCycles)
	if err != nil {
		return 0, apperrors.NewExclusionLookupError(userID, err)
	}

	candidateIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		candidateIDs = append(candidateIDs, c.ID)
	}
	if unseen := ledger.unseen(candidateIDs); len(unseen) > 0 {
		counts, err := o.deps.Matches.CycleMatchCounts(ctx, cycleID, unseen)
		if err != nil {
			return 0, apperrors.NewExclusionLookupError(userID, err)
		}
		ledger.seed(counts)
	}

	exclude := ledger.full(candidateIDs)
	for _, id := range existing {
		exclude[id] = struct{}{}
	}

	// Rank every eligible candidate so a pair lost to a concurrent
	// reservation falls through to the next best one.
	ranked := o.deps.Selector.Select(matching.Selection{
		User:       profile,
		Candidates: candidates,
		Exclude:    exclude,
		Recent:     matching.RecentSet(recent),
		Quota:      len(candidates),
		Cycle:      cycleID,
	})

	selected := make([]models.MatchCandidateResult, 0, remaining)
	for _, r := range ranked {
		if len(selected) == remaining || ledger.remaining(userID) <= 0 {
			break
		}
		if ledger.reserve(userID, r.CandidateUserID) {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		o.logNoCandidates(userID, cycleID, "all candidates excluded")
		return 0, nil
	}

	now := o.deps.Clock()
	matches := make([]models.Match, 0, len(selected))
	for _, r := range selected {
		matches = append(matches, models.NewMatch(r, cycleID, now))
	}

	created, err := o.deps.Matches.Persist(ctx, matches)
	if err != nil {
		for _, r := range selected {
			ledger.release(userID, r.CandidateUserID)
		}
		return 0, apperrors.NewPersistenceError(userID, err)
	}
	return created, nil
}

func (o *Orchestrator) candidateQuery(p *models.UserProfile) models.CandidateQuery {
	ageMin, ageMax := p.AgeMin, p.AgeMax
	if ageMin == 0 {
		ageMin = o.cfg.DefaultAgeMin
	}
	if ageMax == 0 {
		ageMax = o.cfg.DefaultAgeMax
	}
	return models.CandidateQuery{
		UserID:   p.ID,
		Lat:      p.Location.Lat,
		Lng:      p.Location.Lng,
		RadiusKm: o.cfg.MaxRadiusKm,
		AgeMin:   ageMin,
		AgeMax:   ageMax,
		Limit:    o.cfg.CandidatePoolSize,
	}
}

func (o *Orchestrator) logNoCandidates(userID, cycleID, reason string) {
	o.deps.Logger.Debug("no eligible candidates", map[string]interface{}{
		"userId": userID,
		"cycle":  cycleID,
		"code":   string(apperrors.ErrCodeNoEligibleCandidates),
		"reason": reason,
	})
}
