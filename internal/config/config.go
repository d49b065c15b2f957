package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sigs.k8s.io/yaml"
)

const appName = "signalbeam"

type Config struct {
	Database  *dbConfig        `json:"database,omitempty"`
	Service   *svcConfig       `json:"service,omitempty"`
	Auth      *authConfig      `json:"auth,omitempty"`
	Telemetry *telemetryConfig `json:"telemetry,omitempty"`
	Rollout   *rolloutConfig   `json:"rollout,omitempty"`
	Alerts    *alertConfig     `json:"alerts,omitempty"`
	RateLimit *rateLimitConfig `json:"rateLimit,omitempty"`
	Events    *eventsConfig    `json:"events,omitempty"`
}

type dbConfig struct {
	Type     string `json:"type,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     uint   `json:"port,omitempty"`
	Name     string `json:"name,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

type svcConfig struct {
	Address             string `json:"address,omitempty"`
	BaseUrl             string `json:"baseUrl,omitempty"`
	LogLevel            string `json:"logLevel,omitempty"`
	RequestTimeoutSec   int    `json:"requestTimeoutSeconds,omitempty"`
	AdminTimeoutMinutes int    `json:"adminTimeoutMinutes,omitempty"`
	// QuotaServiceURL points at an external billing service; when empty
	// quotas are checked against local tenant records.
	QuotaServiceURL string `json:"quotaServiceUrl,omitempty"`
}

type authConfig struct {
	ApiKeyExpiryCheckIntervalHours int `json:"apiKeyExpiryCheckIntervalHours,omitempty"`
	ApiKeyWarningDays              int `json:"apiKeyWarningDays,omitempty"`
	ApiKeyExpirationDays           int `json:"apiKeyExpirationDays,omitempty"`
	BcryptCost                     int `json:"bcryptCost,omitempty"`
}

type telemetryConfig struct {
	OfflineThresholdSeconds     int `json:"offlineThresholdSeconds,omitempty"`
	OfflineCheckIntervalSeconds int `json:"offlineCheckIntervalSeconds,omitempty"`
	HealthScoreIntervalSeconds  int `json:"healthScoreIntervalSeconds,omitempty"`
	MaxClockSkewMinutes         int `json:"maxClockSkewMinutes,omitempty"`
	RetentionSweepIntervalHours int `json:"retentionSweepIntervalHours,omitempty"`
	RetentionBatchSize          int `json:"retentionBatchSize,omitempty"`
	GroupSyncIntervalSeconds    int `json:"groupSyncIntervalSeconds,omitempty"`
}

type rolloutConfig struct {
	CheckIntervalSeconds    int     `json:"checkIntervalSeconds,omitempty"`
	MaxConcurrent           int     `json:"maxConcurrent,omitempty"`
	DefaultMinHealthyMin    int     `json:"defaultMinHealthyMinutes,omitempty"`
	DefaultFailureThreshold float64 `json:"defaultFailureThreshold,omitempty"`
	MaxRetries              int     `json:"maxRetries,omitempty"`
}

type alertConfig struct {
	TickIntervalSeconds     int     `json:"tickIntervalSeconds,omitempty"`
	ErrorRateWindowMinutes  int     `json:"errorRateWindowMinutes,omitempty"`
	ErrorRateThresholdPct   float64 `json:"errorRateThresholdPct,omitempty"`
	OfflineWarningMinutes   int     `json:"offlineWarningMinutes,omitempty"`
	OfflineCriticalMinutes  int     `json:"offlineCriticalMinutes,omitempty"`
	UnhealthyScoreThreshold float64 `json:"unhealthyScoreThreshold,omitempty"`
}

type rateLimitConfig struct {
	Requests      int `json:"requests,omitempty"`
	WindowSeconds int `json:"windowSeconds,omitempty"`
	QueueDepth    int `json:"queueDepth,omitempty"`
}

type eventsConfig struct {
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
}

func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+appName)
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type:     "pgsql",
			Hostname: "localhost",
			Port:     5432,
			Name:     "signalbeam",
			User:     "admin",
			Password: "adminpass",
		},
		Service: &svcConfig{
			Address:             ":3443",
			BaseUrl:             "https://localhost:3443",
			LogLevel:            "info",
			RequestTimeoutSec:   30,
			AdminTimeoutMinutes: 5,
		},
		Auth: &authConfig{
			ApiKeyExpiryCheckIntervalHours: 24,
			ApiKeyWarningDays:              7,
			ApiKeyExpirationDays:           90,
			BcryptCost:                     12,
		},
		Telemetry: &telemetryConfig{
			OfflineThresholdSeconds:     120,
			OfflineCheckIntervalSeconds: 60,
			HealthScoreIntervalSeconds:  300,
			MaxClockSkewMinutes:         5,
			RetentionSweepIntervalHours: 24,
			RetentionBatchSize:          5000,
			GroupSyncIntervalSeconds:    60,
		},
		Rollout: &rolloutConfig{
			CheckIntervalSeconds:    30,
			MaxConcurrent:           10,
			DefaultMinHealthyMin:    5,
			DefaultFailureThreshold: 0.05,
			MaxRetries:              3,
		},
		Alerts: &alertConfig{
			TickIntervalSeconds:     60,
			ErrorRateWindowMinutes:  15,
			ErrorRateThresholdPct:   10,
			OfflineWarningMinutes:   5,
			OfflineCriticalMinutes:  30,
			UnhealthyScoreThreshold: 40,
		},
		RateLimit: &rateLimitConfig{
			Requests:      100,
			WindowSeconds: 60,
			QueueDepth:    10,
		},
		Events: &eventsConfig{},
	}
}

func NewFromFile(cfgFile string) (*Config, error) {
	cfg, err := Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrGenerate(cfgFile string) (*Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cfgFile), os.FileMode(0755)); err != nil {
			return nil, fmt.Errorf("creating directory for config file: %w", err)
		}
		if err := Save(NewDefault(), cfgFile); err != nil {
			return nil, err
		}
	}
	return NewFromFile(cfgFile)
}

func Load(cfgFile string) (*Config, error) {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	c := NewDefault()
	if err := yaml.Unmarshal(contents, c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

func Save(cfg *Config, cfgFile string) error {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(cfgFile, contents, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays SIGNALBEAM_* environment variables on cfg. Only the
// keys operators commonly override at deploy time are wired.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("SIGNALBEAM_DB_HOST"); v != "" {
		cfg.Database.Hostname = v
	}
	if v := os.Getenv("SIGNALBEAM_DB_PORT"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Database.Port = uint(p)
		}
	}
	if v := os.Getenv("SIGNALBEAM_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SIGNALBEAM_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SIGNALBEAM_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SIGNALBEAM_ADDRESS"); v != "" {
		cfg.Service.Address = v
	}
	if v := os.Getenv("SIGNALBEAM_LOG_LEVEL"); v != "" {
		cfg.Service.LogLevel = v
	}
	if v := os.Getenv("SIGNALBEAM_REDIS_ADDR"); v != "" {
		cfg.Events.RedisAddr = v
	}
	if v := os.Getenv("SIGNALBEAM_REDIS_PASSWORD"); v != "" {
		cfg.Events.RedisPassword = v
	}
}

func Validate(cfg *Config) error {
	if cfg.Rollout != nil {
		if cfg.Rollout.DefaultFailureThreshold < 0 || cfg.Rollout.DefaultFailureThreshold > 1 {
			return fmt.Errorf("rollout.defaultFailureThreshold must be within [0,1]")
		}
		if cfg.Rollout.MaxConcurrent <= 0 {
			return fmt.Errorf("rollout.maxConcurrent must be positive")
		}
	}
	if cfg.Auth != nil && cfg.Auth.BcryptCost < 12 {
		return fmt.Errorf("auth.bcryptCost must be at least 12")
	}
	return nil
}

func (cfg *Config) String() string {
	contents, err := json.Marshal(cfg)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}

// Duration accessors. Config files carry integer seconds/minutes/hours;
// callers want time.Duration.

func (cfg *Config) OfflineThreshold() time.Duration {
	return time.Duration(cfg.Telemetry.OfflineThresholdSeconds) * time.Second
}

func (cfg *Config) OfflineCheckInterval() time.Duration {
	return time.Duration(cfg.Telemetry.OfflineCheckIntervalSeconds) * time.Second
}

func (cfg *Config) HealthScoreInterval() time.Duration {
	return time.Duration(cfg.Telemetry.HealthScoreIntervalSeconds) * time.Second
}

func (cfg *Config) MaxClockSkew() time.Duration {
	return time.Duration(cfg.Telemetry.MaxClockSkewMinutes) * time.Minute
}

func (cfg *Config) RetentionSweepInterval() time.Duration {
	return time.Duration(cfg.Telemetry.RetentionSweepIntervalHours) * time.Hour
}

func (cfg *Config) GroupSyncInterval() time.Duration {
	return time.Duration(cfg.Telemetry.GroupSyncIntervalSeconds) * time.Second
}

func (cfg *Config) RolloutCheckInterval() time.Duration {
	return time.Duration(cfg.Rollout.CheckIntervalSeconds) * time.Second
}

func (cfg *Config) RolloutDefaultMinHealthy() time.Duration {
	return time.Duration(cfg.Rollout.DefaultMinHealthyMin) * time.Minute
}

func (cfg *Config) AlertTickInterval() time.Duration {
	return time.Duration(cfg.Alerts.TickIntervalSeconds) * time.Second
}

func (cfg *Config) ApiKeyExpiryCheckInterval() time.Duration {
	return time.Duration(cfg.Auth.ApiKeyExpiryCheckIntervalHours) * time.Hour
}

func (cfg *Config) RateLimitWindow() time.Duration {
	return time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
}
