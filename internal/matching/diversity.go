package matching

import (
	"sort"

	"match-workers/internal/models"
)

const DefaultDiversityPenalty = 0.3

// DiversityFilter lowers the score of candidates the member was already
// matched with in recent cycles so the same pairs do not repeat every week.
type DiversityFilter struct {
	Penalty float64
}

func NewDiversityFilter(penalty float64) DiversityFilter {
	if penalty < 0 {
		penalty = 0
	}
	return DiversityFilter{Penalty: penalty}
}

// Apply returns results re-ranked after penalising recent candidates. With an
// empty recent set the input is returned untouched.
func (f DiversityFilter) Apply(results []models.MatchCandidateResult, recent map[string]struct{}) []models.MatchCandidateResult {
	if len(recent) == 0 {
		return results
	}

	out := make([]models.MatchCandidateResult, len(results))
	copy(out, results)
	for i := range out {
		if _, seen := recent[out[i].CandidateUserID]; seen {
			out[i].OverallScore = max(0, out[i].OverallScore-f.Penalty)
		}
	}
	sortResults(out)
	return out
}

// sortResults orders by score descending, then candidate id ascending.
func sortResults(results []models.MatchCandidateResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].OverallScore != results[j].OverallScore {
			return results[i].OverallScore > results[j].OverallScore
		}
		return results[i].CandidateUserID < results[j].CandidateUserID
	})
}

// RecentSet indexes recent match records by candidate id.
func RecentSet(records []models.RecentMatchRecord) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, r := range records {
		set[r.CandidateUserID] = struct{}{}
	}
	return set
}
