package models

import (
	"fmt"
	"time"
)

// RankedInterest is one entry of a member's ordered interest list. Rank 1 is
// the most preferred.
type RankedInterest struct {
	InterestID string `json:"interestId"`
	Rank       int    `json:"rank"`
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (g GeoPoint) Valid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Lng >= -180 && g.Lng <= 180
}

// UserProfile is the matching view of a member. A nil Location or a zero
// LastActiveAt means the value is unknown.
type UserProfile struct {
	ID           string           `json:"id"`
	Interests    []RankedInterest `json:"interests"`
	Location     *GeoPoint        `json:"location,omitempty"`
	LastActiveAt time.Time        `json:"lastActiveAt"`
	AgeMin       int              `json:"ageMin,omitempty"`
	AgeMax       int              `json:"ageMax,omitempty"`
}

// Validate checks the structural invariants of a stored profile.
func (p *UserProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile id is empty")
	}

	ranks := make(map[int]struct{}, len(p.Interests))
	ids := make(map[string]struct{}, len(p.Interests))
	for _, in := range p.Interests {
		if in.InterestID == "" {
			return fmt.Errorf("interest with empty id")
		}
		if in.Rank < 1 {
			return fmt.Errorf("interest %s has non-positive rank %d", in.InterestID, in.Rank)
		}
		if _, dup := ranks[in.Rank]; dup {
			return fmt.Errorf("rank %d used more than once", in.Rank)
		}
		if _, dup := ids[in.InterestID]; dup {
			return fmt.Errorf("interest %s listed more than once", in.InterestID)
		}
		ranks[in.Rank] = struct{}{}
		ids[in.InterestID] = struct{}{}
	}

	if p.Location != nil && !p.Location.Valid() {
		return fmt.Errorf("location %.6f,%.6f out of range", p.Location.Lat, p.Location.Lng)
	}
	if p.AgeMin < 0 || p.AgeMax < 0 || (p.AgeMax > 0 && p.AgeMin > p.AgeMax) {
		return fmt.Errorf("invalid age range %d-%d", p.AgeMin, p.AgeMax)
	}
	return nil
}

// ValidateForMatching additionally requires a location, which the radius
// search for candidates needs.
func (p *UserProfile) ValidateForMatching() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Location == nil {
		return fmt.Errorf("profile has no location")
	}
	return nil
}

// RankOf returns the rank of an interest and whether the member has it.
func (p *UserProfile) RankOf(interestID string) (int, bool) {
	for _, in := range p.Interests {
		if in.InterestID == interestID {
			return in.Rank, true
		}
	}
	return 0, false
}

// CandidateProfile is a profile returned by a candidate search, annotated
// with its distance from the requesting member when the source knows it.
type CandidateProfile struct {
	UserProfile
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// CandidateQuery describes a radius search around the requesting member.
type CandidateQuery struct {
	UserID   string  `json:"userId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radiusKm"`
	AgeMin   int     `json:"ageMin"`
	AgeMax   int     `json:"ageMax"`
	Limit    int     `json:"limit"`
}
