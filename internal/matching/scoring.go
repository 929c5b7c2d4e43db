// Package matching scores member pairs and picks each member's weekly matches.
package matching

import (
	"math"
	"time"

	"match-workers/internal/models"
)

const (
	DefaultMaxRadiusKm = 50.0

	maxInterestBonus      = 0.2
	interestBonusPerShare = 0.05
	rankSpread            = 10.0
)

// Weights are the blend factors for the combined score.
type Weights struct {
	Interest  float64 `json:"interest"`
	Proximity float64 `json:"proximity"`
	Activity  float64 `json:"activity"`
}

func DefaultWeights() Weights {
	return Weights{Interest: 0.6, Proximity: 0.3, Activity: 0.1}
}

// Scorer computes compatibility between a member and a candidate. It holds no
// mutable state and is safe for concurrent use.
type Scorer struct {
	weights     Weights
	maxRadiusKm float64
	now         func() time.Time
}

type ScorerOption func(*Scorer)

// WithClock fixes the reference time used for activity recency.
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

func NewScorer(weights Weights, maxRadiusKm float64, opts ...ScorerOption) *Scorer {
	if maxRadiusKm <= 0 {
		maxRadiusKm = DefaultMaxRadiusKm
	}
	s := &Scorer{
		weights:     weights,
		maxRadiusKm: maxRadiusKm,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scorer) MaxRadiusKm() float64 {
	return s.maxRadiusKm
}

// Score returns the full breakdown for user and candidate.
func (s *Scorer) Score(user *models.UserProfile, candidate *models.CandidateProfile) models.ScoreBreakdown {
	now := s.now()

	interest := InterestScore(user.Interests, candidate.Interests)

	proximity := 0.0
	if d, ok := candidateDistance(user, candidate); ok {
		proximity = ProximityScore(d, s.maxRadiusKm)
	}

	activity := (ActivityScore(user.LastActiveAt, now) + ActivityScore(candidate.LastActiveAt, now)) / 2

	overall := s.weights.Interest*interest +
		s.weights.Proximity*proximity +
		s.weights.Activity*activity

	return models.ScoreBreakdown{
		InterestScore:  interest,
		ProximityScore: proximity,
		ActivityScore:  activity,
		OverallScore:   clamp01(overall),
	}
}

// InterestScore measures agreement on shared interests. Each shared interest
// is weighted by the stronger of the two preferences (1/sqrt(rank)) and
// contributes max(0, 1-|rankA-rankB|/10). A small bonus per shared interest
// is added on top, capped at 0.2.
func InterestScore(a, b []models.RankedInterest) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	ranksB := make(map[string]int, len(b))
	for _, in := range b {
		ranksB[in.InterestID] = in.Rank
	}

	var weighted, totalWeight float64
	shared := 0
	for _, in := range a {
		rb, ok := ranksB[in.InterestID]
		if !ok {
			continue
		}
		ra := in.Rank
		shared++

		w := math.Max(rankWeight(ra), rankWeight(rb))
		agreement := math.Max(0, 1-math.Abs(float64(ra-rb))/rankSpread)

		weighted += agreement * w
		totalWeight += w
	}

	if shared == 0 || totalWeight == 0 {
		return 0
	}

	bonus := math.Min(maxInterestBonus, interestBonusPerShare*float64(shared))
	return clamp01(weighted/totalWeight + bonus)
}

func rankWeight(rank int) float64 {
	if rank < 1 {
		rank = 1
	}
	return 1 / math.Sqrt(float64(rank))
}

// ProximityScore decays exponentially with distance and is 0 beyond maxRadiusKm.
func ProximityScore(distanceKm, maxRadiusKm float64) float64 {
	if maxRadiusKm <= 0 {
		maxRadiusKm = DefaultMaxRadiusKm
	}
	if math.IsNaN(distanceKm) || distanceKm < 0 || distanceKm > maxRadiusKm {
		return 0
	}
	return math.Exp(-distanceKm / (maxRadiusKm / 3))
}

// ActivityScore maps time since last activity onto fixed recency tiers.
// An unknown timestamp gets the lowest tier.
func ActivityScore(lastActive, now time.Time) float64 {
	if lastActive.IsZero() {
		return 0.2
	}
	elapsed := now.Sub(lastActive)
	switch {
	case elapsed < 24*time.Hour:
		return 1.0
	case elapsed < 7*24*time.Hour:
		return 0.8
	case elapsed < 30*24*time.Hour:
		return 0.6
	case elapsed < 90*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

// candidateDistance prefers the source's annotation and falls back to the
// great-circle distance when both coordinates are known.
func candidateDistance(user *models.UserProfile, candidate *models.CandidateProfile) (float64, bool) {
	if candidate.DistanceKm != nil {
		return *candidate.DistanceKm, true
	}
	if user.Location == nil || candidate.Location == nil {
		return 0, false
	}
	return HaversineKm(*user.Location, *candidate.Location), true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
