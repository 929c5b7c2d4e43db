package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/common/logger"
	"match-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)
	return NewPostgresStore(db, logger.NewTestLogger(t)), mock
}

func TestPostgresStore_UsersNeedingMatches(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`FROM user_profiles p\s+WHERE p.active\s+AND p.latitude IS NOT NULL\s+AND p.longitude IS NOT NULL\s+AND EXISTS \(SELECT 1 FROM user_interests i WHERE i.user_id = p.id\)`).
		WithArgs("2024-W03", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1").AddRow("u2"))

	ids, err := s.UsersNeedingMatches(context.Background(), "2024-W03", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UsersNeedingMatchesError(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("FROM user_profiles p").WillReturnError(errors.New("connection reset"))

	_, err := s.UsersNeedingMatches(context.Background(), "2024-W03", 2)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueryExecutionFailed, apperrors.KindOf(err))
}

func TestPostgresStore_GetProfile(t *testing.T) {
	s, mock := newTestStore(t)
	lastActive := time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM user_profiles").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "latitude", "longitude", "age_min", "age_max", "last_active_at"}).
			AddRow("u1", 52.52, 13.405, 25, 35, lastActive))
	mock.ExpectQuery("FROM user_interests").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"interest_id", "rank"}).
			AddRow("hiking", 1).
			AddRow("photography", 2))

	p, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, "u1", p.ID)
	require.NotNil(t, p.Location)
	assert.Equal(t, 52.52, p.Location.Lat)
	assert.Equal(t, 25, p.AgeMin)
	assert.Equal(t, lastActive, p.LastActiveAt)
	assert.Equal(t, []models.RankedInterest{{InterestID: "hiking", Rank: 1}, {InterestID: "photography", Rank: 2}}, p.Interests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProfileMissingLocation(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("FROM user_profiles").
		WillReturnRows(sqlmock.NewRows([]string{"id", "latitude", "longitude", "age_min", "age_max", "last_active_at"}).
			AddRow("u1", nil, nil, 0, 0, nil))
	mock.ExpectQuery("FROM user_interests").
		WillReturnRows(sqlmock.NewRows([]string{"interest_id", "rank"}))

	p, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, p.Location)
	assert.True(t, p.LastActiveAt.IsZero())
	assert.Error(t, p.ValidateForMatching())
}

func TestPostgresStore_GetProfileNotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("FROM user_profiles").WillReturnError(sql.ErrNoRows)

	_, err := s.GetProfile(context.Background(), "ghost")
	assert.Equal(t, apperrors.ErrCodeProfileNotFound, apperrors.KindOf(err))
}

func TestPostgresStore_ExistingMatchIDs(t *testing.T) {
	tests := []struct {
		name      string
		lookback  int
		wantSince string
	}{
		{name: "all time", lookback: 0, wantSince: ""},
		{name: "bounded", lookback: 4, wantSince: "2024-W06"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestStore(t)

			mock.ExpectQuery("FROM friend_matches").
				WithArgs("u1", tt.wantSince).
				WillReturnRows(sqlmock.NewRows([]string{"other_id", "cycle"}).
					AddRow("u2", "2024-W08").
					AddRow("u3", "2024-W09").
					AddRow("u2", "2024-W10"))

			ids, err := s.ExistingMatchIDs(context.Background(), "u1", "2024-W10", tt.lookback)
			require.NoError(t, err)
			assert.Equal(t, []string{"u2", "u3"}, ids)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_RecentMatches(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("cycle >= \\$2 AND cycle < \\$3").
		WithArgs("u1", "2024-W06", "2024-W10").
		WillReturnRows(sqlmock.NewRows([]string{"other_id", "cycle"}).AddRow("u2", "2024-W09"))

	recs, err := s.RecentMatches(context.Background(), "u1", "2024-W10", 4)
	require.NoError(t, err)
	assert.Equal(t, []models.RecentMatchRecord{{CandidateUserID: "u2", Cycle: "2024-W09"}}, recs)
	assert.NoError(t, mock.ExpectationsWereMet())

	recs, err = s.RecentMatches(context.Background(), "u1", "2024-W10", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPostgresStore_RecentMatchesBadCycle(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.RecentMatches(context.Background(), "u1", "not-a-cycle", 4)
	assert.Error(t, err)
}

func TestPostgresStore_CycleMatchCount(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WithArgs("u1", "2024-W10").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	n, err := s.CycleMatchCount(context.Background(), "u1", "2024-W10")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostgresStore_CycleMatchCounts(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("FROM unnest").
		WithArgs(sqlmock.AnyArg(), "2024-W10").
		WillReturnRows(sqlmock.NewRows([]string{"id", "count"}).AddRow("u1", 2).AddRow("u2", 0))

	counts, err := s.CycleMatchCounts(context.Background(), "2024-W10", []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 2, "u2": 0, "u3": 0}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CycleMatchCountsEmpty(t *testing.T) {
	s, mock := newTestStore(t)

	counts, err := s.CycleMatchCounts(context.Background(), "2024-W10", nil)
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CycleMatchCountsError(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("FROM unnest").WillReturnError(errors.New("connection reset"))

	_, err := s.CycleMatchCounts(context.Background(), "2024-W10", []string{"u1"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueryExecutionFailed, apperrors.KindOf(err))
}

func TestPostgresStore_Persist(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	matches := []models.Match{
		{ID: "m1", UserA: "a", UserB: "b", Score: 0.9, Cycle: "2024-W10", CreatedAt: now},
		{ID: "m2", UserA: "a", UserB: "c", Score: 0.7, Cycle: "2024-W10", CreatedAt: now},
	}

	t.Run("counts only new rows", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO friend_matches").
			WithArgs("m1", "a", "b", 0.9, "2024-W10", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO friend_matches").
			WithArgs("m2", "a", "c", 0.7, "2024-W10", now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		n, err := s.Persist(context.Background(), matches)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO friend_matches").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		n, err := s.Persist(context.Background(), matches)
		require.Error(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non canonical pairs", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := s.Persist(context.Background(), []models.Match{{ID: "m3", UserA: "z", UserB: "a"}})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing to persist", func(t *testing.T) {
		s, mock := newTestStore(t)
		n, err := s.Persist(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
