package matching

import (
	"match-workers/internal/models"
)

const DefaultMatchesPerUser = 2

// Selection is everything the selector needs to pick one member's matches.
type Selection struct {
	User       *models.UserProfile
	Candidates []models.CandidateProfile
	// Exclude holds members the user must never be matched with again.
	Exclude map[string]struct{}
	// Recent holds members matched in the diversity window.
	Recent map[string]struct{}
	Quota  int
	Cycle  string
}

// Selector filters, scores and ranks candidates for one member.
type Selector struct {
	scorer    *Scorer
	diversity DiversityFilter
}

func NewSelector(scorer *Scorer, diversity DiversityFilter) *Selector {
	return &Selector{scorer: scorer, diversity: diversity}
}

// Select returns at most Quota results in descending score order. An empty
// result is valid and means no eligible candidate remained.
func (s *Selector) Select(in Selection) []models.MatchCandidateResult {
	if in.User == nil || in.Quota <= 0 || len(in.Candidates) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(in.Candidates))
	results := make([]models.MatchCandidateResult, 0, len(in.Candidates))
	for i := range in.Candidates {
		c := &in.Candidates[i]
		if c.ID == "" || c.ID == in.User.ID {
			continue
		}
		if _, excluded := in.Exclude[c.ID]; excluded {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		breakdown := s.scorer.Score(in.User, c)
		results = append(results, models.MatchCandidateResult{
			RequestingUserID: in.User.ID,
			CandidateUserID:  c.ID,
			OverallScore:     breakdown.OverallScore,
			Breakdown:        breakdown,
			Cycle:            in.Cycle,
		})
	}

	results = s.diversity.Apply(results, in.Recent)
	sortResults(results)

	if len(results) > in.Quota {
		results = results[:in.Quota]
	}
	return results
}
