package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Source (GitLab)
	GitLabURL    string
	GitLabUserID string
	GitLabToken  string
	SourceLabel  string

	// Target (GitHub)
	GitHubUsername  string
	GitHubRepoName  string
	GitHubToken     string
	GitHubAPIURL    string
	GitHubURL       string
	TargetBranch    string
	SkipTargetCheck bool

	// Sync
	StateFileName     string
	WorkDir           string
	CommitAuthorName  string
	CommitAuthorEmail string
	RequestTimeout    time.Duration
	LookbackDays      int

	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI. When set, read commands query this status API instead of the local ledger.
	APIEndpoint string
}

// Load loads the configuration from environment variables.
// envFile, when set, must exist; otherwise a .env in the working directory is used if present.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else {
		// Load .env file if it exists (ignore error if not found)
		_ = godotenv.Load()
	}

	timeout, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "10s"))
	if err != nil {
		return nil, &ConfigError{Field: "REQUEST_TIMEOUT", Message: err.Error()}
	}

	lookback, err := strconv.Atoi(getEnv("LOOKBACK_DAYS", "365"))
	if err != nil {
		return nil, &ConfigError{Field: "LOOKBACK_DAYS", Message: "must be an integer"}
	}

	skipCheck, err := strconv.ParseBool(getEnv("SKIP_TARGET_CHECK", "false"))
	if err != nil {
		return nil, &ConfigError{Field: "SKIP_TARGET_CHECK", Message: "must be a boolean"}
	}

	username := getEnv("GITHUB_USERNAME", "")
	repoName := getEnv("GITHUB_REPO_NAME", "")

	cfg := &Config{
		GitLabURL:    strings.TrimRight(getEnv("GITLAB_URL", ""), "/"),
		GitLabUserID: getEnv("GITLAB_USER_ID", ""),
		GitLabToken:  getEnv("GITLAB_TOKEN", ""),
		SourceLabel:  getEnv("SOURCE_LABEL", "GitLab"),

		GitHubUsername:  username,
		GitHubRepoName:  repoName,
		GitHubToken:     getEnv("GITHUB_TOKEN", ""),
		GitHubAPIURL:    getEnv("GITHUB_API_URL", "https://api.github.com/"),
		GitHubURL:       strings.TrimRight(getEnv("GITHUB_URL", "https://github.com"), "/"),
		TargetBranch:    getEnv("TARGET_BRANCH", "main"),
		SkipTargetCheck: skipCheck,

		StateFileName:     getEnv("STATE_FILE_NAME", "last_sync_date.txt"),
		WorkDir:           getEnv("WORK_DIR", defaultWorkDir(repoName)),
		CommitAuthorName:  getEnv("COMMIT_AUTHOR_NAME", username),
		CommitAuthorEmail: getEnv("COMMIT_AUTHOR_EMAIL", noreplyEmail(username)),
		RequestTimeout:    timeout,
		LookbackDays:      lookback,

		StorageType: getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "./mirror.db"),
		PostgresURL: getEnv("POSTGRES_URL", ""),
		APIPort:     getEnv("API_PORT", "8080"),
		APIHost:     getEnv("API_HOST", "localhost"),
		APIEndpoint: getEnv("API_ENDPOINT", ""),
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultWorkDir(repoName string) string {
	if repoName == "" {
		repoName = "repo"
	}
	return filepath.Join(xdg.CacheHome, "contribution-mirror", repoName)
}

func noreplyEmail(username string) string {
	if username == "" {
		return ""
	}
	return username + "@users.noreply.github.com"
}

// TargetCloneURL returns the HTTPS clone URL of the target repository
func (c *Config) TargetCloneURL() string {
	return fmt.Sprintf("%s/%s/%s.git", c.GitHubURL, c.GitHubUsername, c.GitHubRepoName)
}

// Lookback returns the default sync window for a missing cursor
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// Validate validates the configuration needed by the sync command
func (c *Config) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"GITLAB_USER_ID", c.GitLabUserID},
		{"GITLAB_URL", c.GitLabURL},
		{"GITLAB_TOKEN", c.GitLabToken},
		{"GITHUB_REPO_NAME", c.GitHubRepoName},
		{"GITHUB_TOKEN", c.GitHubToken},
		{"GITHUB_USERNAME", c.GitHubUsername},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Field: strings.Join(missing, ", "), Message: "missing required environment variables"}
	}

	if c.TargetBranch == "" {
		return &ConfigError{Field: "TARGET_BRANCH", Message: "must not be empty"}
	}
	if c.StateFileName == "" || filepath.IsAbs(c.StateFileName) || strings.Contains(c.StateFileName, "..") {
		return &ConfigError{Field: "STATE_FILE_NAME", Message: "must be a relative path inside the repository"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Field: "REQUEST_TIMEOUT", Message: "must be positive"}
	}
	if c.LookbackDays <= 0 {
		return &ConfigError{Field: "LOOKBACK_DAYS", Message: "must be positive"}
	}
	if c.CommitAuthorEmail == "" {
		return &ConfigError{Field: "COMMIT_AUTHOR_EMAIL", Message: "could not be derived"}
	}
	return c.ValidateStorage()
}

// ValidateStorage validates only the run ledger settings
func (c *Config) ValidateStorage() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
