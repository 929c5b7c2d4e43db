package config

import (
	"fmt"
	"net/url"
)

// Config is the root configuration for the match workers process.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Matching      MatchingConfig          `mapstructure:"matching"`
	Reporting     ReportingConfig         `mapstructure:"reporting"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	HTTPAddress string `mapstructure:"http_address"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	// RunMigrations applies the embedded schema migrations at startup.
	RunMigrations bool `mapstructure:"run_migrations"`
}

// GetDSN returns the key/value connection string used by lib/pq.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// GetURL returns the postgres:// form, which golang-migrate expects.
func (p PostgresConfig) GetURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     p.Database,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"`
	// ProfileIndex holds one document per member with a geo_point location.
	ProfileIndex string `mapstructure:"profile_index"`
}

// GetURL returns the explicit URL or the first configured address.
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MatchingConfig tunes the weekly match generation run.
type MatchingConfig struct {
	MatchesPerUser        int     `mapstructure:"matches_per_user"`
	BatchSize             int     `mapstructure:"batch_size"`
	BatchPause            int     `mapstructure:"batch_pause"` // milliseconds
	MaxRadiusKm           float64 `mapstructure:"max_radius_km"`
	RecentLookbackCycles  int     `mapstructure:"recent_lookback_cycles"`
	ExclusionLookback     int     `mapstructure:"exclusion_lookback_cycles"` // 0 = all time
	DiversityPenalty      float64 `mapstructure:"diversity_penalty"`
	InterestWeight        float64 `mapstructure:"interest_weight"`
	ProximityWeight       float64 `mapstructure:"proximity_weight"`
	ActivityWeight        float64 `mapstructure:"activity_weight"`
	CandidatePoolSize     int     `mapstructure:"candidate_pool_size"`
	DefaultAgeMin         int     `mapstructure:"default_age_min"`
	DefaultAgeMax         int     `mapstructure:"default_age_max"`
	RunTimeout            int     `mapstructure:"run_timeout"`  // milliseconds
	LockTTL               int     `mapstructure:"lock_ttl"`     // milliseconds
	ReportTTL             int     `mapstructure:"report_ttl"`   // milliseconds
	ProfileCacheTTL       int     `mapstructure:"profile_ttl"`  // milliseconds
	BreakerMaxFailures    uint32  `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout    int     `mapstructure:"breaker_open_timeout"` // milliseconds
	FailureAlertThreshold float64 `mapstructure:"failure_alert_threshold"`
}

// ReportingConfig controls where finished run reports are published.
type ReportingConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
		SES struct {
			Enabled   bool     `mapstructure:"enabled"`
			FromEmail string   `mapstructure:"from_email"`
			To        []string `mapstructure:"to"`
		} `mapstructure:"ses"`
	} `mapstructure:"aws"`

	NATS struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
		Subject string `mapstructure:"subject"`
	} `mapstructure:"nats"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// WorkerConfig holds the settings shared by every job worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
