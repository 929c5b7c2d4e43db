package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top,
// lets environment variables override individual keys and validates the result.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile reads a single YAML file. Used by tests and one-off tooling.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders left in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		s, ok := v.Get(key).(string)
		if !ok || !strings.Contains(s, "$") {
			continue
		}
		if expanded := os.ExpandEnv(s); expanded != s && expanded != "" {
			v.Set(key, expanded)
		}
	}
}

// overrideEmptyConfig fills secrets that are commonly provided under their
// conventional variable names instead of the viper key form.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Database.Redis.Password == "" {
		cfg.Database.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if cfg.Reporting.AWS.Region == "" {
		cfg.Reporting.AWS.Region = os.Getenv("AWS_REGION")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "match-workers"
	}
	if cfg.App.HTTPAddress == "" {
		cfg.App.HTTPAddress = ":8080"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Elasticsearch.ProfileIndex == "" {
		cfg.Database.Elasticsearch.ProfileIndex = "member_profiles"
	}

	applyMatchingDefaults(&cfg.Matching)

	if cfg.Reporting.NATS.Subject == "" {
		cfg.Reporting.NATS.Subject = "matching.run.completed"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, w := range cfg.Workers {
		if w.MaxJobsActive == 0 {
			w.MaxJobsActive = 5
		}
		if w.Timeout == 0 {
			w.Timeout = 30000
		}
		if w.MaxRetries == 0 {
			w.MaxRetries = 3
		}
		cfg.Workers[key] = w
	}
}

// DefaultMatchingConfig returns the tuning used when nothing is configured.
func DefaultMatchingConfig() MatchingConfig {
	var m MatchingConfig
	applyMatchingDefaults(&m)
	return m
}

func applyMatchingDefaults(m *MatchingConfig) {
	if m.MatchesPerUser == 0 {
		m.MatchesPerUser = 2
	}
	if m.BatchSize == 0 {
		m.BatchSize = 10
	}
	if m.BatchPause == 0 {
		m.BatchPause = 100
	}
	if m.MaxRadiusKm == 0 {
		m.MaxRadiusKm = 50
	}
	if m.RecentLookbackCycles == 0 {
		m.RecentLookbackCycles = 4
	}
	if m.DiversityPenalty == 0 {
		m.DiversityPenalty = 0.3
	}
	if m.InterestWeight == 0 && m.ProximityWeight == 0 && m.ActivityWeight == 0 {
		m.InterestWeight = 0.6
		m.ProximityWeight = 0.3
		m.ActivityWeight = 0.1
	}
	if m.CandidatePoolSize == 0 {
		m.CandidatePoolSize = 100
	}
	if m.DefaultAgeMin == 0 {
		m.DefaultAgeMin = 18
	}
	if m.DefaultAgeMax == 0 {
		m.DefaultAgeMax = 99
	}
	if m.RunTimeout == 0 {
		m.RunTimeout = 30 * 60 * 1000
	}
	if m.LockTTL == 0 {
		m.LockTTL = m.RunTimeout + 60000
	}
	if m.ReportTTL == 0 {
		m.ReportTTL = 8 * 24 * 60 * 60 * 1000
	}
	if m.ProfileCacheTTL == 0 {
		m.ProfileCacheTTL = 5 * 60 * 1000
	}
	if m.BreakerMaxFailures == 0 {
		m.BreakerMaxFailures = 5
	}
	if m.BreakerOpenTimeout == 0 {
		m.BreakerOpenTimeout = 30000
	}
	if m.FailureAlertThreshold == 0 {
		m.FailureAlertThreshold = 0.1
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	m := cfg.Matching
	if m.MatchesPerUser < 0 {
		return fmt.Errorf("matching.matches_per_user must not be negative")
	}
	if m.BatchSize < 1 {
		return fmt.Errorf("matching.batch_size must be at least 1")
	}
	if m.MaxRadiusKm <= 0 {
		return fmt.Errorf("matching.max_radius_km must be positive")
	}
	if m.DiversityPenalty < 0 || m.DiversityPenalty > 1 {
		return fmt.Errorf("matching.diversity_penalty must be within [0,1]")
	}
	if m.InterestWeight < 0 || m.ProximityWeight < 0 || m.ActivityWeight < 0 {
		return fmt.Errorf("matching weights must not be negative")
	}
	if m.DefaultAgeMin > m.DefaultAgeMax {
		return fmt.Errorf("matching.default_age_min must not exceed default_age_max")
	}
	if cfg.Reporting.AWS.SNS.Enabled && cfg.Reporting.AWS.SNS.TopicARN == "" {
		return fmt.Errorf("reporting.aws.sns.topic_arn is required when sns is enabled")
	}
	if cfg.Reporting.AWS.SES.Enabled && (cfg.Reporting.AWS.SES.FromEmail == "" || len(cfg.Reporting.AWS.SES.To) == 0) {
		return fmt.Errorf("reporting.aws.ses.from_email and to are required when ses is enabled")
	}
	if cfg.Reporting.NATS.Enabled && cfg.Reporting.NATS.URL == "" {
		return fmt.Errorf("reporting.nats.url is required when nats is enabled")
	}
	return nil
}

// GetDuration converts a millisecond config value to a time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig returns the named worker's settings, or defaults when absent.
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if w, ok := cfg.Workers[workerName]; ok {
		return w
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if w, ok := cfg.Workers[workerName]; ok {
		return w.Enabled
	}
	return true
}
