package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/bidguard/internal/domain"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Rules      RulesConfig      `yaml:"rules"`
	Bid        BidConfig        `yaml:"bid"`
	Budget     BudgetConfig     `yaml:"budget"`
	Safety     SafetyConfig     `yaml:"safety"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Learning   LearningConfig   `yaml:"learning"`
	Outcome    OutcomeConfig    `yaml:"outcome"`
	Autopilot  AutopilotConfig  `yaml:"autopilot"`
	Engine     EngineConfig     `yaml:"engine"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	AWS        AWSConfig        `yaml:"aws"`
	Events     EventsConfig     `yaml:"events"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres store settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for entity locks and the
// change-event stream.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MetricsConfig selects where performance snapshots are read from.
type MetricsConfig struct {
	Driver         string `yaml:"driver"` // "postgres" or "snowflake"
	DSN            string `yaml:"dsn"`
	Table          string `yaml:"table"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call provider timeout.
func (c MetricsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RulesConfig holds targets, tolerances and factors for every rule.
type RulesConfig struct {
	ACOS            TargetRuleConfig          `yaml:"acos"`
	ROAS            TargetRuleConfig          `yaml:"roas"`
	CTR             CTRRuleConfig             `yaml:"ctr"`
	NegativeKeyword NegativeKeywordRuleConfig `yaml:"negative_keyword"`
	Budget          BudgetRuleConfig          `yaml:"budget"`
	// Volume is the minimum data every rule requires before firing.
	Volume domain.VolumeThresholds `yaml:"volume"`
}

// TargetRuleConfig is a target with a symmetric tolerance band.
type TargetRuleConfig struct {
	Enabled             *bool   `yaml:"enabled"`
	Target              float64 `yaml:"target"`
	Tolerance           float64 `yaml:"tolerance"`
	BidAdjustmentFactor float64 `yaml:"bid_adjustment_factor"`
}

// CTRRuleConfig holds the click-through floor.
type CTRRuleConfig struct {
	Enabled             *bool   `yaml:"enabled"`
	Minimum             float64 `yaml:"minimum"`
	BidAdjustmentFactor float64 `yaml:"bid_adjustment_factor"`
}

// NegativeKeywordRuleConfig holds the exclusion thresholds.
type NegativeKeywordRuleConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	CTRThreshold   float64 `yaml:"ctr_threshold"`
	MinImpressions int64   `yaml:"min_impressions"`
}

// BudgetRuleConfig holds the ROAS watermarks for budget moves.
type BudgetRuleConfig struct {
	Enabled       *bool   `yaml:"enabled"`
	HighWatermark float64 `yaml:"high_watermark"`
	LowWatermark  float64 `yaml:"low_watermark"`
}

// On reports whether a rule is enabled. Rules are on unless disabled.
func On(enabled *bool) bool {
	return enabled == nil || *enabled
}

// BidConfig bounds bid recommendations.
type BidConfig struct {
	Floor         float64 `yaml:"floor"`
	Cap           float64 `yaml:"cap"`
	MaxAdjustment float64 `yaml:"max_adjustment"`
}

// BudgetConfig bounds daily budget recommendations.
type BudgetConfig struct {
	MinDaily         float64 `yaml:"min_daily"`
	MaxDaily         float64 `yaml:"max_daily"`
	AdjustmentFactor float64 `yaml:"adjustment_factor"`
}

// SafetyConfig holds the per-entity safety limits.
type SafetyConfig struct {
	MaxDailyAdjustments int                     `yaml:"max_daily_adjustments"`
	CooldownHours       float64                 `yaml:"cooldown_hours"`
	MinConfidence       float64                 `yaml:"min_confidence"`
	Timezone            string                  `yaml:"timezone"`
	Volume              domain.VolumeThresholds `yaml:"volume"`
	LockTTLSeconds      int                     `yaml:"lock_ttl_seconds"`
	LockWaitSeconds     int                     `yaml:"lock_wait_seconds"`
}

// Cooldown returns the minimum time between two changes to one entity.
func (c SafetyConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours * float64(time.Hour))
}

// Location loads the timezone that defines "today" for the daily counter.
func (c SafetyConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LockTTL returns the entity lock lease.
func (c SafetyConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LockWait returns how long a caller waits for a busy entity lock.
func (c SafetyConfig) LockWait() time.Duration {
	return time.Duration(c.LockWaitSeconds) * time.Second
}

// ConfidenceConfig shapes the confidence curve shared by all rules.
type ConfidenceConfig struct {
	Base       float64 `yaml:"base"`
	Saturation float64 `yaml:"saturation"`
}

// LearningConfig controls how outcome history weights rule confidence.
type LearningConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	MinSamples     int     `yaml:"min_samples"`
	FailurePenalty float64 `yaml:"failure_penalty"`
	WindowDays     int     `yaml:"window_days"`
}

// Window returns the rolling window learning stats are computed over.
func (c LearningConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// OutcomeConfig controls outcome classification.
type OutcomeConfig struct {
	MaturationDays     int     `yaml:"maturation_days"`
	NoiseThreshold     float64 `yaml:"noise_threshold"`
	GuardrailSalesDrop float64 `yaml:"guardrail_sales_drop"`
	BatchSize          int     `yaml:"batch_size"`
}

// MaturationWindow returns the time allowed before a change is evaluated.
func (c OutcomeConfig) MaturationWindow() time.Duration {
	return time.Duration(c.MaturationDays) * 24 * time.Hour
}

// AutopilotConfig controls unattended approval.
type AutopilotConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// EngineConfig controls evaluation cycles.
type EngineConfig struct {
	Workers    int `yaml:"workers"`
	WindowDays int `yaml:"window_days"`
}

// Window returns the length of the evaluation window.
func (c EngineConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// SchedulerConfig controls the background worker.
type SchedulerConfig struct {
	CycleIntervalMinutes int `yaml:"cycle_interval_minutes"`
	OutcomeIntervalHours int `yaml:"outcome_interval_hours"`
}

// CycleInterval returns the period between evaluation cycles.
func (c SchedulerConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMinutes) * time.Minute
}

// OutcomeInterval returns the period between outcome passes.
func (c SchedulerConfig) OutcomeInterval() time.Duration {
	return time.Duration(c.OutcomeIntervalHours) * time.Hour
}

// AWSConfig holds optional static credentials. When empty the SDK's
// default credential chain is used.
type AWSConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// EventsConfig selects the change-event sinks.
type EventsConfig struct {
	Region      string `yaml:"region"`
	SQSQueueURL string `yaml:"sqs_queue_url"`
	RedisStream string `yaml:"redis_stream"`
}

// ArchiveConfig holds the S3 audit archive settings.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	S3Bucket     string `yaml:"s3_bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix"`
	FlushSeconds int    `yaml:"flush_seconds"`
}

// FlushInterval returns the period between archive flushes.
func (c ArchiveConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushSeconds) * time.Second
}

// AlertsConfig holds SES alert settings for critical recommendations.
type AlertsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Region          string   `yaml:"region"`
	From            string   `yaml:"from"`
	To              []string `yaml:"to"`
	SubjectTemplate string   `yaml:"subject_template"`
	BodyTemplate    string   `yaml:"body_template"`
	WebhookURL      string   `yaml:"webhook_url"`
}

// LoggingConfig holds the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Keys present in the file override defaults, zeros included.
	var cfg Config
	applyDefaults(&cfg)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDerived(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyDerived(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Metrics.Driver == "" {
		cfg.Metrics.Driver = "postgres"
	}
	if cfg.Metrics.Table == "" {
		cfg.Metrics.Table = "entity_daily_metrics"
	}
	if cfg.Metrics.TimeoutSeconds == 0 {
		cfg.Metrics.TimeoutSeconds = 30
	}

	// Rule defaults
	if cfg.Rules.ACOS.Target == 0 {
		cfg.Rules.ACOS.Target = 0.30
	}
	if cfg.Rules.ACOS.Tolerance == 0 {
		cfg.Rules.ACOS.Tolerance = 0.05
	}
	if cfg.Rules.ACOS.BidAdjustmentFactor == 0 {
		cfg.Rules.ACOS.BidAdjustmentFactor = 0.10
	}
	if cfg.Rules.ROAS.Target == 0 {
		cfg.Rules.ROAS.Target = 4.0
	}
	if cfg.Rules.ROAS.Tolerance == 0 {
		cfg.Rules.ROAS.Tolerance = 0.5
	}
	if cfg.Rules.ROAS.BidAdjustmentFactor == 0 {
		cfg.Rules.ROAS.BidAdjustmentFactor = 0.10
	}
	if cfg.Rules.CTR.Minimum == 0 {
		cfg.Rules.CTR.Minimum = 0.005
	}
	if cfg.Rules.CTR.BidAdjustmentFactor == 0 {
		cfg.Rules.CTR.BidAdjustmentFactor = 0.10
	}
	if cfg.Rules.NegativeKeyword.CTRThreshold == 0 {
		cfg.Rules.NegativeKeyword.CTRThreshold = 0.001
	}
	if cfg.Rules.NegativeKeyword.MinImpressions == 0 {
		cfg.Rules.NegativeKeyword.MinImpressions = 1000
	}
	if cfg.Rules.Budget.HighWatermark == 0 {
		cfg.Rules.Budget.HighWatermark = 6.0
	}
	if cfg.Rules.Budget.LowWatermark == 0 {
		cfg.Rules.Budget.LowWatermark = 2.0
	}

	if cfg.Bid.Floor == 0 {
		cfg.Bid.Floor = 0.02
	}
	if cfg.Bid.Cap == 0 {
		cfg.Bid.Cap = 10.0
	}
	if cfg.Bid.MaxAdjustment == 0 {
		cfg.Bid.MaxAdjustment = 0.25
	}
	if cfg.Budget.MinDaily == 0 {
		cfg.Budget.MinDaily = 1.0
	}
	if cfg.Budget.MaxDaily == 0 {
		cfg.Budget.MaxDaily = 1000.0
	}
	if cfg.Budget.AdjustmentFactor == 0 {
		cfg.Budget.AdjustmentFactor = 0.20
	}

	// Safety defaults
	if cfg.Safety.MaxDailyAdjustments == 0 {
		cfg.Safety.MaxDailyAdjustments = 3
	}
	if cfg.Safety.CooldownHours == 0 {
		cfg.Safety.CooldownHours = 24
	}
	if cfg.Safety.MinConfidence == 0 {
		cfg.Safety.MinConfidence = 0.3
	}
	if cfg.Safety.Timezone == "" {
		cfg.Safety.Timezone = "UTC"
	}
	if cfg.Safety.Volume == (domain.VolumeThresholds{}) {
		cfg.Safety.Volume = domain.VolumeThresholds{MinImpressions: 100, MinClicks: 10, MinConversions: 1}
	}
	if cfg.Safety.LockTTLSeconds == 0 {
		cfg.Safety.LockTTLSeconds = 30
	}
	if cfg.Safety.LockWaitSeconds == 0 {
		cfg.Safety.LockWaitSeconds = 5
	}

	if cfg.Confidence.Base == 0 {
		cfg.Confidence.Base = 0.5
	}
	if cfg.Confidence.Saturation == 0 {
		cfg.Confidence.Saturation = 4.0
	}
	if cfg.Learning.MinSamples == 0 {
		cfg.Learning.MinSamples = 5
	}
	if cfg.Learning.FailurePenalty == 0 {
		cfg.Learning.FailurePenalty = 0.5
	}
	if cfg.Learning.WindowDays == 0 {
		cfg.Learning.WindowDays = 90
	}
	if cfg.Outcome.MaturationDays == 0 {
		cfg.Outcome.MaturationDays = 7
	}
	if cfg.Outcome.NoiseThreshold == 0 {
		cfg.Outcome.NoiseThreshold = 0.10
	}
	if cfg.Outcome.GuardrailSalesDrop == 0 {
		cfg.Outcome.GuardrailSalesDrop = 0.5
	}
	if cfg.Outcome.BatchSize == 0 {
		cfg.Outcome.BatchSize = 500
	}
	if cfg.Autopilot.MinConfidence == 0 {
		cfg.Autopilot.MinConfidence = 0.8
	}

	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 8
	}
	if cfg.Engine.WindowDays == 0 {
		cfg.Engine.WindowDays = 14
	}
	if cfg.Scheduler.CycleIntervalMinutes == 0 {
		cfg.Scheduler.CycleIntervalMinutes = 60
	}
	if cfg.Scheduler.OutcomeIntervalHours == 0 {
		cfg.Scheduler.OutcomeIntervalHours = 24
	}
	if cfg.Events.Region == "" {
		cfg.Events.Region = "us-west-2"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "bidguard/changes"
	}
	if cfg.Archive.FlushSeconds == 0 {
		cfg.Archive.FlushSeconds = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyDerived fills settings that default to another setting's value.
// An all-zero rules.volume inherits safety.volume.
func applyDerived(cfg *Config) {
	if cfg.Rules.Volume == (domain.VolumeThresholds{}) {
		cfg.Rules.Volume = cfg.Safety.Volume
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = cfg.Events.Region
	}
	if cfg.Alerts.Region == "" {
		cfg.Alerts.Region = cfg.Events.Region
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		if cfg.Metrics.Driver == "postgres" && cfg.Metrics.DSN == "" {
			cfg.Metrics.DSN = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SNOWFLAKE_DSN"); v != "" {
		cfg.Metrics.Driver = "snowflake"
		cfg.Metrics.DSN = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("EVENTS_SQS_QUEUE_URL"); v != "" {
		cfg.Events.SQSQueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Events.Region = v
	}
	if v := os.Getenv("BIDGUARD_AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
		cfg.AWS.SecretAccessKey = os.Getenv("BIDGUARD_AWS_SECRET_ACCESS_KEY")
	}
	if v := os.Getenv("ALERTS_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTOPILOT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Autopilot.Enabled = b
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}
