package calculatematchscore

type Input struct {
	UserID      string `json:"userId"`
	CandidateID string `json:"candidateId"`
	Cycle       string `json:"cycle,omitempty"`
}

type Output struct {
	MatchScore   float64      `json:"matchScore"`
	MatchFactors MatchFactors `json:"matchFactors"`
	// RecentlyMatched is true when the pair met inside the diversity window
	// and MatchScore carries the penalty.
	RecentlyMatched bool     `json:"recentlyMatched"`
	DistanceKm      *float64 `json:"distanceKm,omitempty"`
	Cycle           string   `json:"cycle"`
}

type MatchFactors struct {
	InterestFit  float64 `json:"interestFit"`
	ProximityFit float64 `json:"proximityFit"`
	ActivityFit  float64 `json:"activityFit"`
	RawScore     float64 `json:"rawScore"`
}
