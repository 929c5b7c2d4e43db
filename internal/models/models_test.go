package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProfile_Validate(t *testing.T) {
	loc := &GeoPoint{Lat: 52.52, Lng: 13.40}

	tests := []struct {
		name    string
		profile UserProfile
		wantErr string
	}{
		{
			name:    "valid",
			profile: UserProfile{ID: "u1", Interests: []RankedInterest{{"hiking", 1}, {"chess", 2}}, Location: loc},
		},
		{
			name:    "empty id",
			profile: UserProfile{},
			wantErr: "id is empty",
		},
		{
			name:    "duplicate rank",
			profile: UserProfile{ID: "u1", Interests: []RankedInterest{{"hiking", 1}, {"chess", 1}}},
			wantErr: "rank 1 used more than once",
		},
		{
			name:    "zero rank",
			profile: UserProfile{ID: "u1", Interests: []RankedInterest{{"hiking", 0}}},
			wantErr: "non-positive rank",
		},
		{
			name:    "duplicate interest",
			profile: UserProfile{ID: "u1", Interests: []RankedInterest{{"hiking", 1}, {"hiking", 2}}},
			wantErr: "listed more than once",
		},
		{
			name:    "bad latitude",
			profile: UserProfile{ID: "u1", Location: &GeoPoint{Lat: 91}},
			wantErr: "out of range",
		},
		{
			name:    "inverted age range",
			profile: UserProfile{ID: "u1", AgeMin: 40, AgeMax: 30},
			wantErr: "invalid age range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUserProfile_ValidateForMatchingRequiresLocation(t *testing.T) {
	p := UserProfile{ID: "u1"}
	require.NoError(t, p.Validate())
	assert.EqualError(t, p.ValidateForMatching(), "profile has no location")
}

func TestNewMatch_CanonicalOrder(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	m := NewMatch(MatchCandidateResult{RequestingUserID: "zoe", CandidateUserID: "adam", OverallScore: 0.7}, "2024-W03", now)

	assert.Equal(t, "adam", m.UserA)
	assert.Equal(t, "zoe", m.UserB)
	assert.Equal(t, "2024-W03", m.Cycle)
	assert.Equal(t, 0.7, m.Score)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "zoe", m.Other("adam"))
	assert.Equal(t, "adam", m.Other("zoe"))
}

func TestBatchRunReport_Rates(t *testing.T) {
	r := BatchRunReport{
		UsersProcessed: 4,
		UsersFailed:    1,
		Failures:       []UserFailure{{UserID: "u2", ErrorKind: "CANDIDATE_LOOKUP_FAILED"}},
	}
	assert.Equal(t, 0.25, r.FailureRate())
	assert.Equal(t, map[string]int{"CANDIDATE_LOOKUP_FAILED": 1}, r.FailuresByKind())

	assert.Zero(t, (&BatchRunReport{}).FailureRate())
	assert.Zero(t, (&BatchRunReport{}).Duration())
}
