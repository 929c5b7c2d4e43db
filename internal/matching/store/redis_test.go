package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"match-workers/internal/common/logger"
	"match-workers/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRunStateStore_Lock(t *testing.T) {
	mr, client := setupRedis(t)
	s := NewRunStateStore(client, time.Minute, time.Hour)
	ctx := context.Background()

	token, err := s.AcquireLock(ctx, "2024-W03")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, time.Minute, mr.TTL("match-run:lock:2024-W03"))

	second, err := s.AcquireLock(ctx, "2024-W03")
	require.NoError(t, err)
	assert.Empty(t, second, "lock is already held")

	// A stale token must not release someone else's lock.
	require.NoError(t, s.ReleaseLock(ctx, "2024-W03", "stale"))
	assert.True(t, mr.Exists("match-run:lock:2024-W03"))

	require.NoError(t, s.ReleaseLock(ctx, "2024-W03", token))
	assert.False(t, mr.Exists("match-run:lock:2024-W03"))

	again, err := s.AcquireLock(ctx, "2024-W03")
	require.NoError(t, err)
	assert.NotEmpty(t, again)
}

func TestRunStateStore_LockExpires(t *testing.T) {
	mr, client := setupRedis(t)
	s := NewRunStateStore(client, time.Minute, time.Hour)

	_, err := s.AcquireLock(context.Background(), "2024-W03")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	token, err := s.AcquireLock(context.Background(), "2024-W03")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestRunStateStore_Reports(t *testing.T) {
	mr, client := setupRedis(t)
	s := NewRunStateStore(client, time.Minute, time.Hour)
	ctx := context.Background()

	missing, err := s.LoadReport(ctx, "2024-W03")
	require.NoError(t, err)
	assert.Nil(t, missing)

	report := &models.BatchRunReport{
		Cycle:          "2024-W03",
		State:          models.RunStateCompleted,
		UsersProcessed: 3,
		UsersSucceeded: 2,
		UsersFailed:    1,
		MatchesCreated: 4,
		Failures:       []models.UserFailure{{UserID: "u3", ErrorKind: "PERSISTENCE_FAILED"}},
		StartedAt:      time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC),
		CompletedAt:    time.Date(2024, 1, 15, 3, 1, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveReport(ctx, report))
	assert.Equal(t, time.Hour, mr.TTL("match-run:report:2024-W03"))

	loaded, err := s.LoadReport(ctx, "2024-W03")
	require.NoError(t, err)
	assert.Equal(t, report, loaded)
}

func TestRunStateStore_RedisErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRunStateStore(client, time.Minute, time.Hour)

	mock.ExpectGet("match-run:report:2024-W03").SetErr(errors.New("connection refused"))
	_, err := s.LoadReport(context.Background(), "2024-W03")
	assert.Error(t, err)

	mock.ExpectGet("match-run:report:2024-W04").SetVal("{not json")
	_, err = s.LoadReport(context.Background(), "2024-W04")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

type stubLoader struct {
	profiles map[string]*models.UserProfile
	calls    int
}

func (s *stubLoader) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	s.calls++
	p, ok := s.profiles[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func TestCachedProfileSource(t *testing.T) {
	_, client := setupRedis(t)
	loader := &stubLoader{profiles: map[string]*models.UserProfile{
		"u1": {ID: "u1", Interests: []models.RankedInterest{{InterestID: "hiking", Rank: 1}}},
	}}
	src := NewCachedProfileSource(loader, client, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := src.GetProfile(ctx, "u1")
	require.NoError(t, err)
	second, err := src.GetProfile(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Interests, second.Interests)
	assert.Equal(t, 1, loader.calls)

	_, err = src.GetProfile(ctx, "ghost")
	assert.Error(t, err)
}

func TestCachedProfileSource_CacheFailureFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	profile := &models.UserProfile{ID: "u1"}
	loader := &stubLoader{profiles: map[string]*models.UserProfile{"u1": profile}}
	src := NewCachedProfileSource(loader, client, time.Minute, logger.NewNoOpLogger())

	encoded, err := json.Marshal(profile)
	require.NoError(t, err)

	mock.ExpectGet("match:profile:u1").SetErr(errors.New("timeout"))
	mock.ExpectSet("match:profile:u1", encoded, time.Minute).SetErr(errors.New("timeout"))

	got, err := src.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, profile, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
