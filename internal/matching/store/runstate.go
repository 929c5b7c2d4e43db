package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix   = "match-run:lock:"
	reportKeyPrefix = "match-run:report:"
)

// releaseLock deletes the lock only when it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RunStateStore keeps the per-cycle run lock and the last completed report in Redis.
type RunStateStore struct {
	client    redis.UniversalClient
	lockTTL   time.Duration
	reportTTL time.Duration
}

func NewRunStateStore(client redis.UniversalClient, lockTTL, reportTTL time.Duration) *RunStateStore {
	return &RunStateStore{client: client, lockTTL: lockTTL, reportTTL: reportTTL}
}

// AcquireLock takes the cycle lock. It returns an empty token and no error
// when another run holds it.
func (s *RunStateStore) AcquireLock(ctx context.Context, cycleID string) (string, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKeyPrefix+cycleID, token, s.lockTTL).Result()
	if err != nil {
		return "", apperrors.NewCacheError("lock", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (s *RunStateStore) ReleaseLock(ctx context.Context, cycleID, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseLock.Run(ctx, s.client, []string{lockKeyPrefix + cycleID}, token).Err(); err != nil {
		return apperrors.NewCacheError("unlock", err)
	}
	return nil
}

func (s *RunStateStore) SaveReport(ctx context.Context, report *models.BatchRunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.client.Set(ctx, reportKeyPrefix+report.Cycle, data, s.reportTTL).Err(); err != nil {
		return apperrors.NewCacheError("save report", err)
	}
	return nil
}

// LoadReport returns the stored report for the cycle, or nil when none exists.
func (s *RunStateStore) LoadReport(ctx context.Context, cycleID string) (*models.BatchRunReport, error) {
	data, err := s.client.Get(ctx, reportKeyPrefix+cycleID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewCacheError("load report", err)
	}

	var report models.BatchRunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, apperrors.NewCacheError("decode report", err)
	}
	return &report, nil
}
