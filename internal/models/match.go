package models

import (
	"time"

	"github.com/google/uuid"
)

// ScoreBreakdown holds the component scores for one pair. All values are in [0,1].
type ScoreBreakdown struct {
	InterestScore  float64 `json:"interestScore"`
	ProximityScore float64 `json:"proximityScore"`
	ActivityScore  float64 `json:"activityScore"`
	OverallScore   float64 `json:"overallScore"`
}

// MatchCandidateResult is a scored candidate for one requesting member.
// OverallScore starts equal to Breakdown.OverallScore and may be lowered by
// the diversity penalty; the breakdown itself is never modified.
type MatchCandidateResult struct {
	RequestingUserID string         `json:"requestingUserId"`
	CandidateUserID  string         `json:"candidateUserId"`
	OverallScore     float64        `json:"overallScore"`
	Breakdown        ScoreBreakdown `json:"breakdown"`
	Cycle            string         `json:"cycle,omitempty"`
}

// RecentMatchRecord is a pairing from an earlier cycle, seen from one member.
type RecentMatchRecord struct {
	CandidateUserID string `json:"candidateUserId"`
	Cycle           string `json:"cycle"`
}

// Match is a persisted pairing. UserA < UserB so a pair has one identity
// regardless of which side requested it.
type Match struct {
	ID        string    `json:"id"`
	UserA     string    `json:"userA"`
	UserB     string    `json:"userB"`
	Score     float64   `json:"score"`
	Cycle     string    `json:"cycle"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMatch builds a Match in canonical pair order.
func NewMatch(result MatchCandidateResult, cycle string, now time.Time) Match {
	a, b := CanonicalPair(result.RequestingUserID, result.CandidateUserID)
	return Match{
		ID:        uuid.NewString(),
		UserA:     a,
		UserB:     b,
		Score:     result.OverallScore,
		Cycle:     cycle,
		CreatedAt: now.UTC(),
	}
}

func CanonicalPair(x, y string) (string, string) {
	if x < y {
		return x, y
	}
	return y, x
}

// Other returns the member paired with userID.
func (m Match) Other(userID string) string {
	if m.UserA == userID {
		return m.UserB
	}
	return m.UserA
}
