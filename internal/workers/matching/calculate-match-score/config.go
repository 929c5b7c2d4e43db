package calculatematchscore

import "time"

type Config struct {
	Timeout time.Duration
	// RecentLookbackCycles is the diversity window applied to the pair.
	RecentLookbackCycles int
	DiversityPenalty     float64
}

func LoadConfig() *Config {
	return &Config{
		Timeout:              10 * time.Second,
		RecentLookbackCycles: 4,
		DiversityPenalty:     0.3,
	}
}
