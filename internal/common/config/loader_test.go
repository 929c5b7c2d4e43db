package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    database: matches
    user: app
  elasticsearch:
    addresses: ["http://localhost:9200"]
  redis:
    address: localhost:6379
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesMatchingDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)

	m := cfg.Matching
	assert.Equal(t, 2, m.MatchesPerUser)
	assert.Equal(t, 10, m.BatchSize)
	assert.Equal(t, 100*time.Millisecond, GetDuration(m.BatchPause))
	assert.Equal(t, 50.0, m.MaxRadiusKm)
	assert.Equal(t, 4, m.RecentLookbackCycles)
	assert.Equal(t, 0, m.ExclusionLookback)
	assert.InDelta(t, 0.3, m.DiversityPenalty, 1e-9)
	assert.InDelta(t, 0.6, m.InterestWeight, 1e-9)
	assert.InDelta(t, 0.3, m.ProximityWeight, 1e-9)
	assert.InDelta(t, 0.1, m.ActivityWeight, 1e-9)

	assert.Equal(t, "http://localhost:9200", cfg.Database.Elasticsearch.URL)
	assert.Equal(t, "member_profiles", cfg.Database.Elasticsearch.ProfileIndex)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, "matching.run.completed", cfg.Reporting.NATS.Subject)
}

func TestLoadFromFile_OverridesMatching(t *testing.T) {
	body := baseYAML + `
matching:
  matches_per_user: 3
  batch_size: 25
  diversity_penalty: 0.5
  interest_weight: 0.5
  proximity_weight: 0.5
workers:
  generate-weekly-matches:
    enabled: false
`
	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Matching.MatchesPerUser)
	assert.Equal(t, 25, cfg.Matching.BatchSize)
	assert.InDelta(t, 0.5, cfg.Matching.DiversityPenalty, 1e-9)
	assert.InDelta(t, 0.0, cfg.Matching.ActivityWeight, 1e-9)
	assert.False(t, IsWorkerEnabled(cfg, "generate-weekly-matches"))
	assert.True(t, IsWorkerEnabled(cfg, "calculate-match-score"))

	w := GetWorkerConfig(cfg, "generate-weekly-matches")
	assert.Equal(t, 3, w.MaxRetries)
	assert.Equal(t, 5, w.MaxJobsActive)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{
			name:    "penalty out of range",
			extra:   "matching:\n  diversity_penalty: 1.5\n",
			wantErr: "diversity_penalty",
		},
		{
			name:    "negative radius",
			extra:   "matching:\n  max_radius_km: -1\n",
			wantErr: "max_radius_km",
		},
		{
			name:    "sns without topic",
			extra:   "reporting:\n  aws:\n    sns:\n      enabled: true\n",
			wantErr: "topic_arn",
		},
		{
			name:    "nats without url",
			extra:   "reporting:\n  nats:\n    enabled: true\n",
			wantErr: "reporting.nats.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, baseYAML+tt.extra))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_MissingBroker(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "database:\n  postgres:\n    host: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camunda.broker_address")
}

func TestPostgresConfig_URLs(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "app", Password: "s3cret", Database: "matches", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=app password=s3cret dbname=matches sslmode=disable", p.GetDSN())
	assert.Equal(t, "postgres://app:s3cret@db:5432/matches?sslmode=disable", p.GetURL())
}
