package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MergeReviewPolicy controls when a merge PR needs an explicit review.
type MergeReviewPolicy string

const (
	// MergeReviewNever: merge PRs never require a separate review.
	MergeReviewNever MergeReviewPolicy = "never"
	// MergeReviewCheck: a review is required unless the correctness
	// check passed on the merge itself.
	MergeReviewCheck MergeReviewPolicy = "check"
	// MergeReviewAlways: merge PRs always require a review.
	MergeReviewAlways MergeReviewPolicy = "always"
)

type Config struct {
	GithubToken string `mapstructure:"github_token"`
	GithubOwner string `mapstructure:"github_owner"`
	GithubRepo  string `mapstructure:"github_repo"`

	// TargetRef is the branch integrations are pushed to.
	TargetRef string `mapstructure:"target_ref"`
	// CheckName is the required status check.
	CheckName string `mapstructure:"check_name"`
	// IntegrityRemote is the repository holding the audit refs.
	IntegrityRemote string `mapstructure:"integrity_remote"`

	// RequiredReviewers is the default review-count requirement.
	RequiredReviewers int `mapstructure:"required_reviewers"`
	// ReviewCleanBackport requires a review even for clean backports.
	ReviewCleanBackport bool `mapstructure:"review_clean_backport"`
	// MergeReviewPolicy gates the extra review line for merge PRs.
	MergeReviewPolicy MergeReviewPolicy `mapstructure:"merge_review_policy"`
	// AllowedMergeSources is the merge-source repository allow-list; an
	// empty list allows any repository.
	AllowedMergeSources []string `mapstructure:"allowed_merge_sources"`
	// MergeMessageLiteral restricts merge commit messages to the literal
	// "Merge" instead of echoing the source expression.
	MergeMessageLiteral bool `mapstructure:"merge_message_literal"`
	// FixVersions are the fix versions shipped from the target branch;
	// a backport's CSR must cover them in addition to each issue's own.
	FixVersions []string `mapstructure:"fix_versions"`
	// CleanSimilarity is the fraction of diff lines that must match for
	// a backport to classify as clean. 1.0 demands full multiset
	// equality (line reordering is still tolerated).
	CleanSimilarity float64 `mapstructure:"clean_similarity"`

	// CensusFile points at the YAML roster of project roles.
	CensusFile string `mapstructure:"census_file"`
	// TrackerOwner/TrackerRepo locate the issue-tracker repository;
	// empty disables tracker lookups.
	TrackerOwner string `mapstructure:"tracker_owner"`
	TrackerRepo  string `mapstructure:"tracker_repo"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	Workers      int           `mapstructure:"workers"`
	WorkDir      string        `mapstructure:"work_dir"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		TargetRef:           "master",
		CheckName:           "jcheck",
		RequiredReviewers:   1,
		ReviewCleanBackport: false,
		MergeReviewPolicy:   MergeReviewNever,
		CleanSimilarity:     1.0,
		CensusFile:          "census.yml",
		PollInterval:        30 * time.Second,
		Workers:             4,
		WorkDir:             ".mergebot",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.GithubToken != "" {
		if err := ValidateGitHubToken(c.GithubToken); err != nil {
			return fmt.Errorf("invalid github_token: %w", err)
		}
	}
	if err := ValidateGitHubOwnerRepo(c.GithubOwner, c.GithubRepo); err != nil {
		return fmt.Errorf("invalid github configuration: %w", err)
	}
	if c.TargetRef == "" {
		return fmt.Errorf("target_ref cannot be empty")
	}
	if c.RequiredReviewers < 0 {
		return fmt.Errorf("required_reviewers cannot be negative")
	}
	switch c.MergeReviewPolicy {
	case MergeReviewNever, MergeReviewCheck, MergeReviewAlways:
	default:
		return fmt.Errorf("invalid merge_review_policy: %s (expected: never, check or always)", c.MergeReviewPolicy)
	}
	if c.CleanSimilarity < 0 || c.CleanSimilarity > 1 {
		return fmt.Errorf("clean_similarity must be within [0, 1], got %v", c.CleanSimilarity)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if strings.Contains(c.WorkDir, "..") {
		return fmt.Errorf("work_dir contains invalid path traversal")
	}
	return nil
}

// ValidateForGitHubOperations validates that a token is present for
// operations that require it.
func (c *Config) ValidateForGitHubOperations() error {
	if c.GithubToken == "" {
		return fmt.Errorf("github_token is required for GitHub operations")
	}
	return c.Validate()
}

// SourceAllowed reports whether repo may serve as a merge source. An
// empty allow-list permits everything.
func (c *Config) SourceAllowed(repo string) bool {
	if len(c.AllowedMergeSources) == 0 {
		return true
	}
	for _, allowed := range c.AllowedMergeSources {
		if allowed == repo {
			return true
		}
	}
	return false
}

// ValidateGitHubToken validates GitHub token format (exported for reuse).
func ValidateGitHubToken(token string) error {
	token = strings.TrimSpace(token)
	if len(token) < 40 {
		return fmt.Errorf("token too short: expected at least 40 characters")
	}
	classicPAT := regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	fineGrainedPAT := regexp.MustCompile(`^github_pat_[a-zA-Z0-9_]{82}$`)
	appToken := regexp.MustCompile(`^ghs_[a-zA-Z0-9]{36}$`)
	oauthToken := regexp.MustCompile(`^gho_[a-zA-Z0-9]{36}$`)
	if !classicPAT.MatchString(token) &&
		!fineGrainedPAT.MatchString(token) &&
		!appToken.MatchString(token) &&
		!oauthToken.MatchString(token) {
		return fmt.Errorf("invalid token format")
	}
	return nil
}

// ValidateGitHubOwnerRepo validates GitHub owner and repository names
// (exported for reuse).
func ValidateGitHubOwnerRepo(owner, repo string) error {
	if owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if repo == "" {
		return fmt.Errorf("repository cannot be empty")
	}
	validName := regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-_.]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)
	if !validName.MatchString(owner) {
		return fmt.Errorf("invalid owner format: %s", owner)
	}
	if len(owner) > 39 {
		return fmt.Errorf("owner too long: maximum 39 characters")
	}
	if !validName.MatchString(repo) {
		return fmt.Errorf("invalid repository format: %s", repo)
	}
	if len(repo) > 100 {
		return fmt.Errorf("repository too long: maximum 100 characters")
	}
	return nil
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName(".mergebot")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("MERGEBOT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// BindEnv allows multiple env vars - they are checked in order.
	if err := viper.BindEnv("github_token", "GITHUB_TOKEN", "MERGEBOT_GITHUB_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind github_token env: %w", err)
	}
	if err := viper.BindEnv("github_owner", "GITHUB_OWNER", "MERGEBOT_GITHUB_OWNER"); err != nil {
		return nil, fmt.Errorf("failed to bind github_owner env: %w", err)
	}
	if err := viper.BindEnv("github_repo", "GITHUB_REPO", "MERGEBOT_GITHUB_REPO"); err != nil {
		return nil, fmt.Errorf("failed to bind github_repo env: %w", err)
	}
	defaults := DefaultConfig()
	viper.SetDefault("target_ref", defaults.TargetRef)
	viper.SetDefault("check_name", defaults.CheckName)
	viper.SetDefault("required_reviewers", defaults.RequiredReviewers)
	viper.SetDefault("review_clean_backport", defaults.ReviewCleanBackport)
	viper.SetDefault("merge_review_policy", string(defaults.MergeReviewPolicy))
	viper.SetDefault("merge_message_literal", defaults.MergeMessageLiteral)
	viper.SetDefault("clean_similarity", defaults.CleanSimilarity)
	viper.SetDefault("census_file", defaults.CensusFile)
	viper.SetDefault("poll_interval", defaults.PollInterval)
	viper.SetDefault("workers", defaults.Workers)
	viper.SetDefault("work_dir", defaults.WorkDir)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}
