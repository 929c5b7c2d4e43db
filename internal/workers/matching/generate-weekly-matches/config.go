package generateweeklymatches

import "time"

type Config struct {
	// Timeout bounds one run, including publishing the report.
	Timeout time.Duration
	// PublishTimeout bounds report publishing after the run finished.
	PublishTimeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout:        30 * time.Minute,
		PublishTimeout: 30 * time.Second,
	}
}
