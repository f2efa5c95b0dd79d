// Package config provides environment-aware configuration loading,
// grounded on the teacher's internal/config/config.go getEnv/getIntEnv
// helper pattern and Load()/Validate() split.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment names the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// StorageBackend selects which internal/storage implementation backs the
// pipeline engine.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StoragePostgres StorageBackend = "postgres"
	StorageRedis    StorageBackend = "redis"
)

// Config holds all process configuration.
type Config struct {
	Env Environment

	// Storage
	Storage     StorageBackend
	PostgresDSN string
	RedisAddr   string

	// Admin HTTP surface
	AdminPort    int
	AdminToken   string
	HealthzPort  int

	// Dispatcher
	DispatchQueueSize int

	// Collaborators
	CIBaseURL       string
	CIToken         string
	VCSRemoteName   string
	VCSWorkdir      string
	UIWebhookSecret string

	// Rate limiting
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Logging
	LogLevel  string
	LogFormat string

	// Policy
	PolicyScriptPath string

	// Reconciler
	ReconcileCron string
	Pipelines     []int64

	// Webhook field mappings (provider-agnostic defaults, GitHub-shaped)
	CIWebhookCommitPath   string
	CIWebhookStatusPath   string
	CIWebhookURLPath      string
	CIWebhookSuccessValue string
	CIWebhookFailureValue string

	UIWebhookOwnerPath      string
	UIWebhookRepoPath       string
	UIWebhookNumberPath     string
	UIWebhookCommitPath     string
	UIWebhookTitlePath      string
	UIWebhookApprovalLabel  string
	UIWebhookLabelsPathExpr string

	// Features
	MetricsEnabled bool
	MetricsPort    int
}

// Load builds a Config from MERGEQUEUE_ENV plus an optional
// config/<env>.env file, then environment variables layered on top.
func Load() (*Config, error) {
	envStr := os.Getenv("MERGEQUEUE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := parseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid MERGEQUEUE_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func parseEnvironment(s string) (Environment, bool) {
	switch Environment(strings.ToLower(s)) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

func (c *Config) loadFromEnv() error {
	c.Storage = StorageBackend(getEnv("STORAGE_BACKEND", string(StorageMemory)))
	c.PostgresDSN = getEnv("POSTGRES_DSN", "")
	c.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")

	c.AdminPort = getIntEnv("ADMIN_PORT", 8080)
	c.AdminToken = getEnv("ADMIN_TOKEN", "")
	c.HealthzPort = getIntEnv("HEALTHZ_PORT", c.AdminPort)

	c.DispatchQueueSize = getIntEnv("DISPATCH_QUEUE_SIZE", 64)

	c.CIBaseURL = getEnv("CI_BASE_URL", "")
	c.CIToken = getEnv("CI_TOKEN", "")
	c.VCSRemoteName = getEnv("VCS_REMOTE_NAME", "origin")
	c.VCSWorkdir = getEnv("VCS_WORKDIR", ".")
	c.UIWebhookSecret = getEnv("UI_WEBHOOK_SECRET", "")

	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_PER_SECOND", "10"), 64)
	if err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_PER_SECOND: %w", err)
	}
	c.RateLimitPerSecond = rps
	c.RateLimitBurst = getIntEnv("RATE_LIMIT_BURST", 20)

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.PolicyScriptPath = getEnv("POLICY_SCRIPT_PATH", "")
	c.ReconcileCron = getEnv("RECONCILE_CRON", "@every 1m")

	pipelines, err := parseInt64List(getEnv("PIPELINE_IDS", "1"))
	if err != nil {
		return fmt.Errorf("invalid PIPELINE_IDS: %w", err)
	}
	c.Pipelines = pipelines

	c.CIWebhookCommitPath = getEnv("CI_WEBHOOK_COMMIT_PATH", "commit")
	c.CIWebhookStatusPath = getEnv("CI_WEBHOOK_STATUS_PATH", "status")
	c.CIWebhookURLPath = getEnv("CI_WEBHOOK_URL_PATH", "url")
	c.CIWebhookSuccessValue = getEnv("CI_WEBHOOK_SUCCESS_VALUE", "success")
	c.CIWebhookFailureValue = getEnv("CI_WEBHOOK_FAILURE_VALUE", "failure")

	c.UIWebhookOwnerPath = getEnv("UI_WEBHOOK_OWNER_PATH", "repository.owner.login")
	c.UIWebhookRepoPath = getEnv("UI_WEBHOOK_REPO_PATH", "repository.name")
	c.UIWebhookNumberPath = getEnv("UI_WEBHOOK_NUMBER_PATH", "pull_request.number")
	c.UIWebhookCommitPath = getEnv("UI_WEBHOOK_COMMIT_PATH", "pull_request.head.sha")
	c.UIWebhookTitlePath = getEnv("UI_WEBHOOK_TITLE_PATH", "pull_request.title")
	c.UIWebhookApprovalLabel = getEnv("UI_WEBHOOK_APPROVAL_LABEL", "merge-queue")
	c.UIWebhookLabelsPathExpr = getEnv("UI_WEBHOOK_LABELS_PATH_EXPR", "$.pull_request.labels[*].name")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", true)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	return nil
}

func parseInt64List(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, n)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("must name at least one pipeline id")
	}
	return ids, nil
}

func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate applies production-only and general sanity checks, mirroring
// the teacher's Validate().
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StoragePostgres, StorageRedis:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND: %s", c.Storage)
	}
	if c.Storage == StoragePostgres && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when STORAGE_BACKEND=postgres")
	}

	if c.IsProduction() {
		if c.AdminToken == "" {
			return fmt.Errorf("ADMIN_TOKEN must be set in production")
		}
		if c.Storage == StorageMemory {
			return fmt.Errorf("STORAGE_BACKEND=memory is not durable enough for production")
		}
	}

	if c.AdminPort < 1 || c.AdminPort > 65535 {
		return fmt.Errorf("invalid ADMIN_PORT: %d", c.AdminPort)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
