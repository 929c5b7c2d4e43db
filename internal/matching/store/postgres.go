// Package store holds the persistence adapters used by the weekly match run.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"match-workers/internal/common/database"
	apperrors "match-workers/internal/common/errors"
	"match-workers/internal/common/logger"
	"match-workers/internal/matching/cycle"
	"match-workers/internal/models"

	"github.com/lib/pq"
)

const (
	queryEligibleUsers = `
		SELECT p.id
		FROM user_profiles p
		WHERE p.active
		  AND p.latitude IS NOT NULL
		  AND p.longitude IS NOT NULL
		  AND EXISTS (SELECT 1 FROM user_interests i WHERE i.user_id = p.id)
		  AND (
		    SELECT COUNT(*) FROM friend_matches m
		    WHERE m.cycle = $1 AND (m.user_a = p.id OR m.user_b = p.id)
		  ) < $2
		ORDER BY p.id`

	queryProfile = `
		SELECT id, latitude, longitude, age_min, age_max, last_active_at
		FROM user_profiles
		WHERE id = $1`

	queryInterests = `
		SELECT interest_id, rank
		FROM user_interests
		WHERE user_id = $1
		ORDER BY rank`

	queryMatchedSince = `
		SELECT CASE WHEN user_a = $1 THEN user_b ELSE user_a END AS other_id, cycle
		FROM friend_matches
		WHERE (user_a = $1 OR user_b = $1) AND cycle >= $2`

	queryMatchedBetween = `
		SELECT CASE WHEN user_a = $1 THEN user_b ELSE user_a END AS other_id, cycle
		FROM friend_matches
		WHERE (user_a = $1 OR user_b = $1) AND cycle >= $2 AND cycle < $3
		ORDER BY cycle DESC`

	queryCycleCount = `
		SELECT COUNT(*)
		FROM friend_matches
		WHERE (user_a = $1 OR user_b = $1) AND cycle = $2`

	queryCycleCounts = `
		SELECT u.id, COUNT(m.id)
		FROM unnest($1::text[]) AS u(id)
		LEFT JOIN friend_matches m
		  ON m.cycle = $2 AND (m.user_a = u.id OR m.user_b = u.id)
		GROUP BY u.id`

	insertMatch = `
		INSERT INTO friend_matches (id, user_a, user_b, score, cycle, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_a, user_b, cycle) DO NOTHING`
)

// PostgresStore reads profiles and match history and records new matches.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "postgres-store"}),
	}
}

// UsersNeedingMatches returns active members with a location and at least
// one interest who hold fewer than quota matches in the cycle, in id order.
func (s *PostgresStore) UsersNeedingMatches(ctx context.Context, cycleID string, quota int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryEligibleUsers, cycleID, quota)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("eligible_users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError("eligible_users", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("eligible_users", err)
	}
	return ids, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var (
		p          models.UserProfile
		lat, lng   sql.NullFloat64
		lastActive sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, queryProfile, userID).
		Scan(&p.ID, &lat, &lng, &p.AgeMin, &p.AgeMax, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewProfileNotFoundError(userID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("profile", err)
	}

	if lat.Valid && lng.Valid {
		p.Location = &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if lastActive.Valid {
		p.LastActiveAt = lastActive.Time.UTC()
	}

	rows, err := s.db.QueryContext(ctx, queryInterests, userID)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("interests", err)
	}
	defer rows.Close()

	for rows.Next() {
		var in models.RankedInterest
		if err := rows.Scan(&in.InterestID, &in.Rank); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError("interests", err)
		}
		p.Interests = append(p.Interests, in)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("interests", err)
	}
	return &p, nil
}

// ExistingMatchIDs returns everyone userID was matched with from
// lookbackCycles before cycleID onwards, the current cycle included.
// A lookback of 0 means all time.
func (s *PostgresStore) ExistingMatchIDs(ctx context.Context, userID, cycleID string, lookbackCycles int) ([]string, error) {
	since := ""
	if lookbackCycles > 0 {
		var err error
		if since, err = cycle.LookbackStart(cycleID, lookbackCycles); err != nil {
			return nil, err
		}
	}

	records, err := s.scanMatched(ctx, "existing_matches", queryMatchedSince, userID, since)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.CandidateUserID]; dup {
			continue
		}
		seen[r.CandidateUserID] = struct{}{}
		ids = append(ids, r.CandidateUserID)
	}
	return ids, nil
}

// RecentMatches returns pairings from the lookbackCycles cycles preceding cycleID.
func (s *PostgresStore) RecentMatches(ctx context.Context, userID, cycleID string, lookbackCycles int) ([]models.RecentMatchRecord, error) {
	if lookbackCycles <= 0 {
		return nil, nil
	}
	since, err := cycle.LookbackStart(cycleID, lookbackCycles)
	if err != nil {
		return nil, err
	}
	return s.scanMatched(ctx, "recent_matches", queryMatchedBetween, userID, since, cycleID)
}

func (s *PostgresStore) CycleMatchCount(ctx context.Context, userID, cycleID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, queryCycleCount, userID, cycleID).Scan(&n); err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("cycle_match_count", err)
	}
	return n, nil
}

// CycleMatchCounts returns how many matches each of userIDs holds in the
// cycle. Every requested id is present in the result.
func (s *PostgresStore) CycleMatchCounts(ctx context.Context, cycleID string, userIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}

	rows, err := s.db.QueryContext(ctx, queryCycleCounts, pq.Array(userIDs), cycleID)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("cycle_match_counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError("cycle_match_counts", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("cycle_match_counts", err)
	}
	for _, id := range userIDs {
		if _, ok := counts[id]; !ok {
			counts[id] = 0
		}
	}
	return counts, nil
}

// Persist inserts matches in one transaction. Pairs already stored for the
// same cycle are skipped, so the returned count only includes new rows.
func (s *PostgresStore) Persist(ctx context.Context, matches []models.Match) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, m := range matches {
			if m.UserA >= m.UserB {
				return fmt.Errorf("match %s is not in canonical order", m.ID)
			}
			res, err := tx.ExecContext(ctx, insertMatch, m.ID, m.UserA, m.UserB, m.Score, m.Cycle, m.CreatedAt)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("persist_matches", err)
	}

	if skipped := len(matches) - inserted; skipped > 0 {
		s.logger.Debug("skipped matches already stored for cycle", map[string]interface{}{
			"skipped": skipped,
			"cycle":   matches[0].Cycle,
		})
	}
	return inserted, nil
}

func (s *PostgresStore) scanMatched(ctx context.Context, name, query string, args ...interface{}) ([]models.RecentMatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError(name, err)
	}
	defer rows.Close()

	var out []models.RecentMatchRecord
	for rows.Next() {
		var r models.RecentMatchRecord
		if err := rows.Scan(&r.CandidateUserID, &r.Cycle); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError(name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError(name, err)
	}
	return out, nil
}
